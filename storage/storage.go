// Package storage defines the persistence contracts consumed by the grant engine.
// Each interface is narrow so a host can back clients, scopes, codes, tokens and
// legacy sessions with different technologies.
package storage

import (
	"context"
	"time"
)

// ClientStore looks up registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret.
	// Implementations must take the same time whether or not the client exists.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// ScopeStore looks up scope definitions by identifier.
type ScopeStore interface {
	// GetScope retrieves a scope by its identifier
	GetScope(ctx context.Context, scopeID string) (*Scope, error)
}

// AuthorizationCodeStore persists authorization codes issued at the authorization endpoint.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without modifying it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
	// Exactly one concurrent caller succeeds. Later callers get ErrAuthorizationCodeUsed
	// together with the stored record so the caller can revoke what the code produced.
	// An expired code yields ErrTokenExpired and no record.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)
}

// AccessTokenStore persists issued access tokens (by JWT ID).
type AccessTokenStore interface {
	// SaveAccessToken persists a newly issued access token
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by identifier
	GetAccessToken(ctx context.Context, tokenID string) (*AccessToken, error)

	// RevokeAccessToken marks an access token revoked. Revoking twice is not an error.
	RevokeAccessToken(ctx context.Context, tokenID string) error

	// FindActiveAccessToken returns an unrevoked, unexpired access token held by
	// ownerID for clientID, or ErrTokenNotFound.
	FindActiveAccessToken(ctx context.Context, ownerID, clientID string) (*AccessToken, error)
}

// RefreshTokenStore persists refresh tokens and supports atomic rotation.
type RefreshTokenStore interface {
	// SaveRefreshToken persists a newly issued refresh token
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by identifier
	GetRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error)

	// AtomicRevokeRefreshToken atomically flips the revoked flag of an unrevoked token
	// and returns the record as it was before the update. A token that is already
	// revoked yields ErrTokenRevoked together with the stored record.
	AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error)
}

// TokenRevocationStore supports bulk revocation for a user+client pair.
// It is used when authorization code or refresh token reuse is detected.
type TokenRevocationStore interface {
	// RevokeAllForOwnerClient revokes every access and refresh token held by
	// ownerID for clientID and returns the number of tokens revoked.
	RevokeAllForOwnerClient(ctx context.Context, ownerID, clientID string) (int, error)
}

// SessionStore persists sessions of the legacy authorization-code flow.
type SessionStore interface {
	// CreateSession persists a new session
	CreateSession(ctx context.Context, session *Session) error

	// GetSessionByAuthCode finds the session holding an outstanding code
	GetSessionByAuthCode(ctx context.Context, code string) (*Session, error)

	// GetSessionByAccessToken finds the session an access token was bound to
	GetSessionByAccessToken(ctx context.Context, accessTokenID string) (*Session, error)

	// AssociateAuthCode attaches a fresh code to a session and resets it to pending
	AssociateAuthCode(ctx context.Context, sessionID, code string, expiresAt time.Time) error

	// AssociateAccessToken binds an access token to a session and clears its code
	AssociateAccessToken(ctx context.Context, sessionID, accessTokenID string) error

	// AddSessionScope attaches one scope to a session
	AddSessionScope(ctx context.Context, sessionID, scopeID string) error

	// DeleteSessions removes all sessions for a client and owner
	DeleteSessions(ctx context.Context, clientID, ownerType, ownerID string) error
}

// Repositories bundles the stores the grant engine consumes.
// A single adapter (memory, valkey, postgres) usually fills every field.
type Repositories struct {
	Clients       ClientStore
	Scopes        ScopeStore
	Codes         AuthorizationCodeStore
	AccessTokens  AccessTokenStore
	RefreshTokens RefreshTokenStore
	Revocations   TokenRevocationStore
	Sessions      SessionStore
}
