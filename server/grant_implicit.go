package server

import (
	"context"
	"net/url"
	"strconv"
)

// implicitGrant returns an access token directly in the redirect fragment.
// It never issues refresh tokens and has no token endpoint form.
type implicitGrant struct {
	s *Server
}

func (g *implicitGrant) Identifier() GrantType {
	return GrantTypeImplicit
}

func (g *implicitGrant) ResponseType() string {
	return ResponseTypeToken
}

func (g *implicitGrant) RespondToAccessTokenRequest(context.Context, *Request) (*TokenResponse, error) {
	return nil, ErrUnsupportedGrantType("the implicit grant is only available at the authorization endpoint")
}

// CompleteAuthorizationRequest issues an access token and redirects with it
// in the fragment.
func (g *implicitGrant) CompleteAuthorizationRequest(ctx context.Context, areq *AuthorizationRequest, ownerID string) (string, error) {
	s := g.s

	access, err := s.issueAccessToken(ctx, s.Config.accessTokenTTL(), areq.Client, ownerID, areq.Scopes)
	if err != nil {
		return "", err
	}
	encoded, err := s.codec.Encode(access)
	if err != nil {
		return "", ErrServerError("failed to sign access token").WithCause(err)
	}
	s.recordIssued(ctx, GrantTypeImplicit, areq.Client, access, false)

	resp := s.newTokenResponse(access, nil, encoded, areq.Client)

	params := url.Values{}
	params.Set("access_token", resp.AccessToken)
	params.Set("token_type", resp.TokenType)
	params.Set("expires_in", strconv.FormatInt(resp.ExpiresIn, 10))
	if resp.Scope != "" {
		params.Set("scope", resp.Scope)
	}
	if areq.State != "" {
		params.Set("state", areq.State)
	}
	return RedirectURI(areq.RedirectURI, params, "#"), nil
}
