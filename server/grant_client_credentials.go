package server

import (
	"context"
)

// clientCredentialsGrant issues tokens owned by the client itself.
type clientCredentialsGrant struct {
	s *Server
}

func (g *clientCredentialsGrant) Identifier() GrantType {
	return GrantTypeClientCredentials
}

func (g *clientCredentialsGrant) RespondToAccessTokenRequest(ctx context.Context, req *Request) (*TokenResponse, error) {
	client, err := g.s.validateClient(ctx, req, GrantTypeClientCredentials)
	if err != nil {
		return nil, err
	}
	if !client.IsConfidential() {
		return nil, ErrUnauthorizedClient("public clients cannot use client_credentials")
	}

	scopes, err := g.s.requestScopes(ctx, req, client)
	if err != nil {
		return nil, err
	}

	resp, _, err := g.s.issueTokens(ctx, GrantTypeClientCredentials, client, client.ClientID, scopes, false, 0)
	return resp, err
}
