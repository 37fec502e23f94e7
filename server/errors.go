package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes (RFC 6749 section 5.2 and 4.1.2.1)
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
)

// ErrorCategory groups error codes by who is at fault.
type ErrorCategory string

const (
	// CategoryClient covers malformed requests and failed client authentication
	CategoryClient ErrorCategory = "client"

	// CategoryGrant covers rejected credentials, codes, tokens and scopes
	CategoryGrant ErrorCategory = "grant"

	// CategoryServer covers storage and signing failures
	CategoryServer ErrorCategory = "server"
)

// Error is a protocol error returned to the client.
// Description is always generic; the underlying cause, if any, is only
// reachable through Unwrap and must not be sent on the wire.
type Error struct {
	Code        string
	Description string
	Status      int
	Category    ErrorCategory

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, ErrInvalidGrant("")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of e carrying cause for logging.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

func newError(code, desc string, status int, category ErrorCategory) *Error {
	return &Error{Code: code, Description: desc, Status: status, Category: category}
}

// ErrInvalidRequest indicates a missing, repeated or malformed parameter
func ErrInvalidRequest(desc string) *Error {
	return newError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest, CategoryClient)
}

// ErrInvalidClient indicates client authentication failed
func ErrInvalidClient(desc string) *Error {
	return newError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized, CategoryClient)
}

// ErrInvalidGrant indicates the code, refresh token or owner credentials were rejected
func ErrInvalidGrant(desc string) *Error {
	return newError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest, CategoryGrant)
}

// ErrUnauthorizedClient indicates the client may not use this grant or response type
func ErrUnauthorizedClient(desc string) *Error {
	return newError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest, CategoryClient)
}

// ErrUnsupportedGrantType indicates the grant type is unknown or disabled
func ErrUnsupportedGrantType(desc string) *Error {
	return newError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest, CategoryClient)
}

// ErrInvalidScope indicates an unknown, disallowed or widened scope
func ErrInvalidScope(desc string) *Error {
	return newError(ErrorCodeInvalidScope, desc, http.StatusBadRequest, CategoryGrant)
}

// ErrAccessDenied indicates the resource owner denied the request
func ErrAccessDenied(desc string) *Error {
	return newError(ErrorCodeAccessDenied, desc, http.StatusForbidden, CategoryGrant)
}

// ErrUnsupportedResponseType indicates the response_type is not enabled
func ErrUnsupportedResponseType(desc string) *Error {
	return newError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest, CategoryClient)
}

// ErrServerError indicates an internal failure
func ErrServerError(desc string) *Error {
	return newError(ErrorCodeServerError, desc, http.StatusInternalServerError, CategoryServer)
}

// ErrTemporarilyUnavailable indicates a backing service is down
func ErrTemporarilyUnavailable(desc string) *Error {
	return newError(ErrorCodeTemporarilyUnavailable, desc, http.StatusServiceUnavailable, CategoryServer)
}

// AsError returns err as an *Error. Anything that is not already one becomes
// a generic server_error wrapping err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError("internal server error").WithCause(err)
}
