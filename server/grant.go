package server

import (
	"context"
)

// GrantType identifies a token endpoint grant (the grant_type parameter).
type GrantType string

// Grant types
const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypePassword          GrantType = "password"
	GrantTypeImplicit          GrantType = "implicit"
)

// Authorization endpoint response types
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// Grant is one token endpoint grant. The Server dispatches on Identifier.
type Grant interface {
	Identifier() GrantType
	RespondToAccessTokenRequest(ctx context.Context, req *Request) (*TokenResponse, error)
}

// AuthorizationResponder is implemented by grants that also answer at the
// authorization endpoint.
type AuthorizationResponder interface {
	// ResponseType is the response_type value the grant handles
	ResponseType() string

	// CompleteAuthorizationRequest issues the grant for an approved request
	// and returns the redirect URL carrying the result.
	CompleteAuthorizationRequest(ctx context.Context, areq *AuthorizationRequest, ownerID string) (string, error)
}
