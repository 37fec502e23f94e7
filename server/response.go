package server

import (
	"time"

	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
)

// TokenType is the only token type issued
const TokenType = "Bearer"

// TokenResponse is a successful token endpoint response (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// newTokenResponse assembles the response for an issued pair. expires_in is
// computed from the access token expiry at response time.
func (s *Server) newTokenResponse(access *storage.AccessToken, refresh *storage.RefreshToken, encoded string, client *storage.Client) *TokenResponse {
	return assembleTokenResponse(access, refresh, encoded, s.defaultScopes(client), s.Config.ScopeDelimiter, s.now())
}

func assembleTokenResponse(access *storage.AccessToken, refresh *storage.RefreshToken, encoded string, defaults []string, delimiter string, now time.Time) *TokenResponse {
	resp := &TokenResponse{
		AccessToken: encoded,
		TokenType:   TokenType,
		ExpiresIn:   security.ExpiresIn(access.ExpiresAt, now),
	}
	if refresh != nil {
		resp.RefreshToken = refresh.ID
	}
	// scope is only echoed when it differs from what the client gets by default
	if !util.SameScopes(access.Scopes, defaults) {
		resp.Scope = joinScopes(access.Scopes, delimiter)
	}
	return resp
}

func joinScopes(scopes []string, delimiter string) string {
	return util.JoinScopes(scopes, delimiter)
}
