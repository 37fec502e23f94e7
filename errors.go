package oauth

import (
	"github.com/giantswarm/oauth2-grants/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeServerError             = server.ErrorCodeServerError
	ErrorCodeTemporarilyUnavailable  = server.ErrorCodeTemporarilyUnavailable

	// ErrorCodeRateLimitExceeded is only produced by the HTTP layer
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// OAuthError is a protocol error carrying an error code and HTTP status
type OAuthError = server.Error

// Common OAuth errors
var (
	ErrInvalidRequest          = server.ErrInvalidRequest
	ErrInvalidClient           = server.ErrInvalidClient
	ErrInvalidGrant            = server.ErrInvalidGrant
	ErrUnauthorizedClient      = server.ErrUnauthorizedClient
	ErrUnsupportedGrantType    = server.ErrUnsupportedGrantType
	ErrInvalidScope            = server.ErrInvalidScope
	ErrAccessDenied            = server.ErrAccessDenied
	ErrUnsupportedResponseType = server.ErrUnsupportedResponseType
	ErrServerError             = server.ErrServerError
	ErrTemporarilyUnavailable  = server.ErrTemporarilyUnavailable
)

// AsOAuthError converts any error into an *OAuthError. Errors that are not
// already protocol errors become server_error.
func AsOAuthError(err error) *OAuthError {
	return server.AsError(err)
}
