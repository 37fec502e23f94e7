package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
)

// authCodeLength is the length of codes issued by the legacy session flow
const authCodeLength = 40

// newTokenID returns a random JWT ID.
func newTokenID() string {
	return uuid.NewString()
}

// newOpaqueToken returns 32 random bytes, base64url-encoded (43 characters).
func newOpaqueToken() string {
	return oauth2.GenerateVerifier()
}

// newAuthCode returns a random 40-character code.
func newAuthCode() string {
	return newOpaqueToken()[:authCodeLength]
}

// issueAccessToken persists a new access token for ownerID.
func (s *Server) issueAccessToken(ctx context.Context, ttl time.Duration, client *storage.Client, ownerID string, scopes []string) (*storage.AccessToken, error) {
	now := s.now()
	access := &storage.AccessToken{
		ID:        newTokenID(),
		ClientID:  client.ClientID,
		UserID:    ownerID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repos.AccessTokens.SaveAccessToken(ctx, access); err != nil {
		return nil, storageError(err)
	}
	return access, nil
}

// issueRefreshToken persists a refresh token paired with access.
func (s *Server) issueRefreshToken(ctx context.Context, access *storage.AccessToken, rotation int) (*storage.RefreshToken, error) {
	now := s.now()
	refresh := &storage.RefreshToken{
		ID:            newOpaqueToken(),
		AccessTokenID: access.ID,
		ClientID:      access.ClientID,
		UserID:        access.UserID,
		Scopes:        access.Scopes,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.Config.refreshTokenTTL()),
		Rotation:      rotation,
	}
	if err := s.repos.RefreshTokens.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, storageError(err)
	}
	return refresh, nil
}

// issueTokens issues an access token, and a refresh token when withRefresh
// is set, and assembles the response.
func (s *Server) issueTokens(ctx context.Context, grant GrantType, client *storage.Client, ownerID string, scopes []string, withRefresh bool, rotation int) (*TokenResponse, *storage.AccessToken, error) {
	access, err := s.issueAccessToken(ctx, s.Config.accessTokenTTL(), client, ownerID, scopes)
	if err != nil {
		return nil, nil, err
	}

	var refresh *storage.RefreshToken
	if withRefresh {
		if refresh, err = s.issueRefreshToken(ctx, access, rotation); err != nil {
			return nil, nil, err
		}
	}

	encoded, err := s.codec.Encode(access)
	if err != nil {
		return nil, nil, ErrServerError("failed to sign access token").WithCause(err)
	}

	instrumentation.AddGrantAttributes(trace.SpanFromContext(ctx), string(grant), client.ClientID, access.UserID)
	s.recordIssued(ctx, grant, client, access, refresh != nil)
	return s.newTokenResponse(access, refresh, encoded, client), access, nil
}

// expired reports whether expiresAt has passed on the server clock,
// allowing the configured clock skew.
func (s *Server) expired(expiresAt time.Time) bool {
	return security.IsExpiredAt(expiresAt, s.now(), s.Config.clockSkew())
}

// refreshEnabledFor reports whether a refresh token should accompany tokens
// issued to client.
func (s *Server) refreshEnabledFor(client *storage.Client) bool {
	return s.Config.grantEnabled(GrantTypeRefreshToken) && client.AllowsGrantType(string(GrantTypeRefreshToken))
}

func (s *Server) recordIssued(ctx context.Context, grant GrantType, client *storage.Client, access *storage.AccessToken, withRefresh bool) {
	s.Auditor.LogTokenIssued(string(grant), access.UserID, client.ClientID, ipFromContext(ctx),
		joinScopes(access.Scopes, s.Config.ScopeDelimiter), withRefresh)
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(ctx, string(grant), client.ClientID, withRefresh)
	}
}
