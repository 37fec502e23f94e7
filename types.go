package oauth

import (
	"github.com/giantswarm/oauth2-grants/server"
)

// ErrorResponse represents an OAuth error response (RFC 6749 section 5.2)
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse is a successful token endpoint response (RFC 6749 section 5.1)
type TokenResponse = server.TokenResponse

// AuthorizationRequest is a validated authorization endpoint request
type AuthorizationRequest = server.AuthorizationRequest
