package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/storage"
)

// Token type hints accepted by RevokeToken (RFC 7009 section 2.1).
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// RevokeToken revokes the access or refresh token named by the token
// parameter. The client must authenticate the same way it does at the token
// endpoint. Unknown tokens and tokens belonging to another client are
// reported as success so callers cannot discover which tokens exist.
func (s *Server) RevokeToken(ctx context.Context, req *Request) error {
	ctx, span := s.tracer.Start(ctx, "oauth.revoke")
	defer span.End()

	ctx = withClientIP(ctx, req.IPAddress)

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		oe := AsError(err)
		instrumentation.SetSpanError(span, oe.Code)
		return oe
	}

	raw, err := req.RequiredParam("token")
	if err != nil {
		return err
	}
	hint, err := req.Param("token_type_hint")
	if err != nil {
		return err
	}

	var revoked bool
	switch hint {
	case TokenTypeHintAccessToken:
		revoked, err = s.revokeAccessToken(ctx, client, raw)
		if err == nil && !revoked {
			revoked, err = s.revokeRefreshToken(ctx, client, raw)
		}
	default:
		// refresh_token, empty and unknown hints all search refresh tokens first
		revoked, err = s.revokeRefreshToken(ctx, client, raw)
		if err == nil && !revoked {
			revoked, err = s.revokeAccessToken(ctx, client, raw)
		}
	}
	if err != nil {
		oe := AsError(err)
		instrumentation.SetSpanError(span, oe.Code)
		s.Logger.Error("Token revocation failed", "client_id", client.ClientID, "error", err)
		return oe
	}

	if revoked && s.metrics != nil {
		s.metrics.RecordTokenRevocation(ctx, client.ClientID)
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// authenticateClient verifies client credentials without a grant type check.
func (s *Server) authenticateClient(ctx context.Context, req *Request) (*storage.Client, error) {
	return s.validateClient(ctx, req, "")
}

func (s *Server) revokeRefreshToken(ctx context.Context, client *storage.Client, raw string) (bool, error) {
	rt, err := s.repos.RefreshTokens.GetRefreshToken(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, storageError(err)
	}
	if rt.ClientID != client.ClientID {
		s.Logger.Warn("Revocation requested for another client's token", "client_id", client.ClientID)
		return false, nil
	}

	if _, err := s.repos.RefreshTokens.AtomicRevokeRefreshToken(ctx, rt.ID); err != nil &&
		!errors.Is(err, storage.ErrTokenRevoked) && !errors.Is(err, storage.ErrTokenNotFound) {
		return false, storageError(err)
	}
	if rt.AccessTokenID != "" {
		if err := s.repos.AccessTokens.RevokeAccessToken(ctx, rt.AccessTokenID); err != nil &&
			!errors.Is(err, storage.ErrTokenNotFound) {
			return false, storageError(err)
		}
	}

	s.Auditor.LogTokenRevoked(rt.UserID, client.ClientID, ipFromContext(ctx), TokenTypeHintRefreshToken)
	return true, nil
}

func (s *Server) revokeAccessToken(ctx context.Context, client *storage.Client, raw string) (bool, error) {
	claims, err := s.codec.Decode(raw)
	if err != nil {
		// expired or foreign tokens are not an error for the caller
		return false, nil
	}
	if claims.ClientID() != client.ClientID {
		s.Logger.Warn("Revocation requested for another client's token", "client_id", client.ClientID)
		return false, nil
	}

	if err := s.repos.AccessTokens.RevokeAccessToken(ctx, claims.ID); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, storageError(err)
	}

	s.Auditor.LogTokenRevoked(claims.Subject, client.ClientID, ipFromContext(ctx), TokenTypeHintAccessToken)
	return true, nil
}
