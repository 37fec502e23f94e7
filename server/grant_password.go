package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-grants/providers"
	"github.com/giantswarm/oauth2-grants/security"
)

// passwordGrant exchanges resource owner credentials for tokens.
type passwordGrant struct {
	s *Server
}

func (g *passwordGrant) Identifier() GrantType {
	return GrantTypePassword
}

func (g *passwordGrant) RespondToAccessTokenRequest(ctx context.Context, req *Request) (*TokenResponse, error) {
	client, err := g.s.validateClient(ctx, req, GrantTypePassword)
	if err != nil {
		return nil, err
	}

	username, err := req.RequiredParam("username")
	if err != nil {
		return nil, err
	}
	password, err := req.RequiredParam("password")
	if err != nil {
		return nil, err
	}

	scopes, err := g.s.requestScopes(ctx, req, client)
	if err != nil {
		return nil, err
	}

	identity, err := g.s.authenticator.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, providers.ErrInvalidCredentials) {
			g.s.Auditor.LogAuthFailure(security.EventOwnerAuthFailed, username, client.ClientID, ipFromContext(ctx), "invalid_credentials")
			return nil, ErrInvalidGrant("invalid resource owner credentials")
		}
		return nil, ErrServerError("internal server error").WithCause(err)
	}
	if identity == nil || identity.ID == "" {
		return nil, ErrServerError("internal server error")
	}

	resp, _, err := g.s.issueTokens(ctx, GrantTypePassword, client, identity.ID, scopes, g.s.refreshEnabledFor(client), 0)
	return resp, err
}
