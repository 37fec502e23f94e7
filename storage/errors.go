package storage

import "errors"

// Sentinel errors returned by every adapter. Callers classify with errors.Is;
// adapters may wrap them with additional context.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrScopeNotFound             = errors.New("scope not found")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrTokenNotFound             = errors.New("token not found")
	ErrTokenExpired              = errors.New("token expired")
	ErrTokenRevoked              = errors.New("token revoked")
	ErrSessionNotFound           = errors.New("session not found")
	ErrInvalidClientSecret       = errors.New("invalid client credentials")

	// ErrUnavailable marks a backend that cannot be reached right now.
	ErrUnavailable = errors.New("storage temporarily unavailable")
)
