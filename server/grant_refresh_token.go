package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
)

// refreshTokenGrant rotates a refresh token: the presented token and its
// access token are revoked and a new pair is issued.
type refreshTokenGrant struct {
	s *Server
}

func (g *refreshTokenGrant) Identifier() GrantType {
	return GrantTypeRefreshToken
}

func (g *refreshTokenGrant) RespondToAccessTokenRequest(ctx context.Context, req *Request) (*TokenResponse, error) {
	s := g.s

	client, err := s.validateClient(ctx, req, GrantTypeRefreshToken)
	if err != nil {
		return nil, err
	}

	raw, err := req.RequiredParam("refresh_token")
	if err != nil {
		return nil, err
	}

	stored, err := s.repos.RefreshTokens.GetRefreshToken(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.Logger.Debug("Refresh token validation failed",
				"reason", "not_found",
				"client_id", client.ClientID,
				"token_prefix", util.SafeTruncate(raw, 8))
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		return nil, storageError(err)
	}

	// checked before the revoked flag so one client cannot trigger
	// revocation of another client's tokens
	if stored.ClientID != client.ClientID {
		s.Logger.Debug("Refresh token validation failed",
			"reason", "client_id_mismatch",
			"client_id", client.ClientID)
		return nil, ErrInvalidGrant("invalid refresh token")
	}
	if stored.Revoked {
		s.revokeAllForReuse(ctx, security.EventRefreshTokenReuseDetected, stored.UserID, stored.ClientID)
		return nil, ErrInvalidGrant("invalid refresh token")
	}
	if s.expired(stored.ExpiresAt) {
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	scopes := stored.Scopes
	if req.Has("scope") {
		rawScope, err := req.Param("scope")
		if err != nil {
			return nil, err
		}
		requested := util.SplitScopes(rawScope, s.Config.ScopeDelimiter)
		if len(requested) == 0 {
			return nil, ErrInvalidScope("scope must not be empty")
		}
		if !util.IsSubset(requested, stored.Scopes) {
			s.Auditor.LogScopeEscalation(stored.UserID, client.ClientID, ipFromContext(ctx),
				joinScopes(requested, s.Config.ScopeDelimiter), joinScopes(stored.Scopes, s.Config.ScopeDelimiter))
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		scopes = requested
	}

	// the atomic revoke decides which concurrent request wins
	if _, err := s.repos.RefreshTokens.AtomicRevokeRefreshToken(ctx, stored.ID); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) {
			s.revokeAllForReuse(ctx, security.EventRefreshTokenReuseDetected, stored.UserID, stored.ClientID)
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		return nil, storageError(err)
	}

	if err := s.repos.AccessTokens.RevokeAccessToken(ctx, stored.AccessTokenID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		s.Logger.Warn("Failed to revoke access token paired with rotated refresh token",
			"client_id", client.ClientID, "error", err)
	}

	rotation := stored.Rotation + 1
	resp, _, err := s.issueTokens(ctx, GrantTypeRefreshToken, client, stored.UserID, scopes, true, rotation)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenRefreshed(stored.UserID, client.ClientID, ipFromContext(ctx), rotation)
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, client.ClientID, rotation)
	}
	instrumentation.AddRotationAttributes(trace.SpanFromContext(ctx), rotation)
	return resp, nil
}
