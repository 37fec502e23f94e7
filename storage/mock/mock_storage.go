// Package mock provides a repository implementation for testing storage
// failures. Each overridable operation has a Func field; operations without
// one fall through to an in-memory store.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth2-grants/storage"
	"github.com/giantswarm/oauth2-grants/storage/memory"
)

// Store wraps a memory.Store. Set a Func field to intercept that operation.
type Store struct {
	*memory.Store

	GetClientFunc                      func(ctx context.Context, clientID string) (*storage.Client, error)
	ValidateClientSecretFunc           func(ctx context.Context, clientID, clientSecret string) error
	GetScopeFunc                       func(ctx context.Context, scopeID string) (*storage.Scope, error)
	SaveAuthorizationCodeFunc          func(ctx context.Context, code *storage.AuthorizationCode) error
	AtomicCheckAndMarkAuthCodeUsedFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	SaveAccessTokenFunc                func(ctx context.Context, token *storage.AccessToken) error
	RevokeAccessTokenFunc              func(ctx context.Context, tokenID string) error
	SaveRefreshTokenFunc               func(ctx context.Context, token *storage.RefreshToken) error
	AtomicRevokeRefreshTokenFunc       func(ctx context.Context, tokenID string) (*storage.RefreshToken, error)
	RevokeAllForOwnerClientFunc        func(ctx context.Context, ownerID, clientID string) (int, error)

	mu         sync.Mutex
	callCounts map[string]int
}

// New creates a mock store over a fresh memory store. Call Stop when done.
func New() *Store {
	return Wrap(memory.New())
}

// Wrap intercepts calls to an existing memory store. Data already saved in
// store stays visible.
func Wrap(store *memory.Store) *Store {
	return &Store{
		Store:      store,
		callCounts: make(map[string]int),
	}
}

// Repositories returns every repository backed by the mock
func (m *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Clients:       m,
		Scopes:        m,
		Codes:         m,
		AccessTokens:  m,
		RefreshTokens: m,
		Revocations:   m,
		Sessions:      m,
	}
}

// CallCount returns how often an intercepted operation was called
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *Store) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// GetClient implements storage.ClientStore
func (m *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.record("GetClient")
	if m.GetClientFunc != nil {
		return m.GetClientFunc(ctx, clientID)
	}
	return m.Store.GetClient(ctx, clientID)
}

// ValidateClientSecret implements storage.ClientStore
func (m *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	m.record("ValidateClientSecret")
	if m.ValidateClientSecretFunc != nil {
		return m.ValidateClientSecretFunc(ctx, clientID, clientSecret)
	}
	return m.Store.ValidateClientSecret(ctx, clientID, clientSecret)
}

// GetScope implements storage.ScopeStore
func (m *Store) GetScope(ctx context.Context, scopeID string) (*storage.Scope, error) {
	m.record("GetScope")
	if m.GetScopeFunc != nil {
		return m.GetScopeFunc(ctx, scopeID)
	}
	return m.Store.GetScope(ctx, scopeID)
}

// SaveAuthorizationCode implements storage.AuthorizationCodeStore
func (m *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.record("SaveAuthorizationCode")
	if m.SaveAuthorizationCodeFunc != nil {
		return m.SaveAuthorizationCodeFunc(ctx, code)
	}
	return m.Store.SaveAuthorizationCode(ctx, code)
}

// AtomicCheckAndMarkAuthCodeUsed implements storage.AuthorizationCodeStore
func (m *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.record("AtomicCheckAndMarkAuthCodeUsed")
	if m.AtomicCheckAndMarkAuthCodeUsedFunc != nil {
		return m.AtomicCheckAndMarkAuthCodeUsedFunc(ctx, code)
	}
	return m.Store.AtomicCheckAndMarkAuthCodeUsed(ctx, code)
}

// SaveAccessToken implements storage.AccessTokenStore
func (m *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.record("SaveAccessToken")
	if m.SaveAccessTokenFunc != nil {
		return m.SaveAccessTokenFunc(ctx, token)
	}
	return m.Store.SaveAccessToken(ctx, token)
}

// RevokeAccessToken implements storage.AccessTokenStore
func (m *Store) RevokeAccessToken(ctx context.Context, tokenID string) error {
	m.record("RevokeAccessToken")
	if m.RevokeAccessTokenFunc != nil {
		return m.RevokeAccessTokenFunc(ctx, tokenID)
	}
	return m.Store.RevokeAccessToken(ctx, tokenID)
}

// SaveRefreshToken implements storage.RefreshTokenStore
func (m *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.record("SaveRefreshToken")
	if m.SaveRefreshTokenFunc != nil {
		return m.SaveRefreshTokenFunc(ctx, token)
	}
	return m.Store.SaveRefreshToken(ctx, token)
}

// AtomicRevokeRefreshToken implements storage.RefreshTokenStore
func (m *Store) AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	m.record("AtomicRevokeRefreshToken")
	if m.AtomicRevokeRefreshTokenFunc != nil {
		return m.AtomicRevokeRefreshTokenFunc(ctx, tokenID)
	}
	return m.Store.AtomicRevokeRefreshToken(ctx, tokenID)
}

// RevokeAllForOwnerClient implements storage.TokenRevocationStore
func (m *Store) RevokeAllForOwnerClient(ctx context.Context, ownerID, clientID string) (int, error) {
	m.record("RevokeAllForOwnerClient")
	if m.RevokeAllForOwnerClientFunc != nil {
		return m.RevokeAllForOwnerClientFunc(ctx, ownerID, clientID)
	}
	return m.Store.RevokeAllForOwnerClient(ctx, ownerID, clientID)
}

var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.ScopeStore             = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.AccessTokenStore       = (*Store)(nil)
	_ storage.RefreshTokenStore      = (*Store)(nil)
	_ storage.TokenRevocationStore   = (*Store)(nil)
	_ storage.SessionStore           = (*Store)(nil)
)
