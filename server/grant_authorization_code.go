package server

import (
	"context"
	"errors"
	"net/url"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
)

// authorizationCodeGrant issues codes at the authorization endpoint and
// exchanges them at the token endpoint.
type authorizationCodeGrant struct {
	s *Server
}

func (g *authorizationCodeGrant) Identifier() GrantType {
	return GrantTypeAuthorizationCode
}

func (g *authorizationCodeGrant) ResponseType() string {
	return ResponseTypeCode
}

// CompleteAuthorizationRequest stores a new code and redirects with it.
func (g *authorizationCodeGrant) CompleteAuthorizationRequest(ctx context.Context, areq *AuthorizationRequest, ownerID string) (string, error) {
	s := g.s
	now := s.now()

	code := &storage.AuthorizationCode{
		Code:                newOpaqueToken(),
		ClientID:            areq.Client.ClientID,
		UserID:              ownerID,
		RedirectURI:         areq.RedirectURI,
		Scopes:              areq.Scopes,
		CodeChallenge:       areq.CodeChallenge,
		CodeChallengeMethod: areq.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.authCodeTTL()),
	}
	if err := s.repos.Codes.SaveAuthorizationCode(ctx, code); err != nil {
		return "", storageError(err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationCodeIssued,
		GrantType: string(GrantTypeAuthorizationCode),
		UserID:    ownerID,
		ClientID:  areq.Client.ClientID,
		Details: map[string]any{
			"scope": joinScopes(areq.Scopes, s.Config.ScopeDelimiter),
			"pkce":  areq.CodeChallengeMethod,
		},
	})

	params := url.Values{}
	params.Set("code", code.Code)
	if areq.State != "" {
		params.Set("state", areq.State)
	}
	return RedirectURI(areq.RedirectURI, params, "?"), nil
}

func (g *authorizationCodeGrant) RespondToAccessTokenRequest(ctx context.Context, req *Request) (*TokenResponse, error) {
	s := g.s

	client, err := s.validateClient(ctx, req, GrantTypeAuthorizationCode)
	if err != nil {
		return nil, err
	}

	rawCode, err := req.RequiredParam("code")
	if err != nil {
		return nil, err
	}
	supplied, err := req.Param("redirect_uri")
	if err != nil {
		return nil, err
	}
	redirectURI, err := validateRedirectURI(client, supplied)
	if err != nil {
		return nil, err
	}
	verifier, err := req.Param("code_verifier")
	if err != nil {
		return nil, err
	}

	// single use is decided here; nothing below may retry it
	code, err := s.repos.Codes.AtomicCheckAndMarkAuthCodeUsed(ctx, rawCode)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) && code != nil && code.ClientID == client.ClientID {
			s.revokeAllForReuse(ctx, security.EventAuthorizationCodeReuseDetected, code.UserID, code.ClientID)
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) ||
			errors.Is(err, storage.ErrAuthorizationCodeNotFound) ||
			errors.Is(err, storage.ErrTokenExpired) {
			s.Logger.Debug("Authorization code validation failed",
				"reason", err.Error(),
				"client_id", client.ClientID,
				"code_prefix", util.SafeTruncate(rawCode, 8))
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		return nil, storageError(err)
	}

	if code.ClientID != client.ClientID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(rawCode, 8))
		return nil, ErrInvalidGrant("invalid authorization code")
	}
	if code.RedirectURI != redirectURI {
		s.Auditor.LogAuthFailure(security.EventRedirectURIMismatch, code.UserID, client.ClientID, ipFromContext(ctx), "redirect_uri_mismatch")
		return nil, ErrInvalidGrant("invalid authorization code")
	}
	if s.expired(code.ExpiresAt) {
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	if err := g.checkPKCE(ctx, code, verifier); err != nil {
		return nil, err
	}

	resp, access, err := s.issueTokens(ctx, GrantTypeAuthorizationCode, client, code.UserID, code.Scopes, s.refreshEnabledFor(client), 0)
	if err != nil {
		return nil, err
	}

	s.completeLegacySession(ctx, rawCode, access)

	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, client.ClientID, code.CodeChallengeMethod)
	}
	return resp, nil
}

func (g *authorizationCodeGrant) checkPKCE(ctx context.Context, code *storage.AuthorizationCode, verifier string) error {
	s := g.s
	if code.CodeChallenge == "" {
		if verifier != "" {
			return ErrInvalidGrant("code_verifier sent for a code issued without code_challenge")
		}
		return nil
	}

	instrumentation.AddPKCEAttributes(trace.SpanFromContext(ctx), code.CodeChallengeMethod)
	if verifier == "" {
		return ErrInvalidGrant("missing code_verifier")
	}
	if !verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, verifier) {
		s.Auditor.LogAuthFailure(security.EventPKCEValidationFailed, code.UserID, code.ClientID, ipFromContext(ctx), "verifier_mismatch")
		if s.metrics != nil {
			s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		}
		return ErrInvalidGrant("invalid code_verifier")
	}
	return nil
}
