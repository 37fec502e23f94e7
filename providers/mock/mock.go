// Package mock provides a configurable Authenticator for tests.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth2-grants/providers"
)

// Authenticator is a mock implementation of providers.Authenticator
type Authenticator struct {
	// AuthenticateFunc is called when Authenticate() is invoked
	AuthenticateFunc func(ctx context.Context, username, password string) (*providers.Identity, error)

	mu    sync.Mutex
	calls []string
}

var _ providers.Authenticator = (*Authenticator)(nil)

// NewAuthenticator returns a mock that accepts exactly the given
// username/password pairs, using the username as the owner ID.
func NewAuthenticator(credentials map[string]string) *Authenticator {
	return &Authenticator{
		AuthenticateFunc: func(_ context.Context, username, password string) (*providers.Identity, error) {
			want, ok := credentials[username]
			if !ok || want != password {
				return nil, providers.ErrInvalidCredentials
			}
			return &providers.Identity{ID: username, Username: username}, nil
		},
	}
}

// Name returns "mock".
func (m *Authenticator) Name() string { return "mock" }

// Authenticate records the call and delegates to AuthenticateFunc.
func (m *Authenticator) Authenticate(ctx context.Context, username, password string) (*providers.Identity, error) {
	m.mu.Lock()
	m.calls = append(m.calls, username)
	m.mu.Unlock()

	if m.AuthenticateFunc == nil {
		return nil, providers.ErrInvalidCredentials
	}
	return m.AuthenticateFunc(ctx, username, password)
}

// Calls returns the usernames Authenticate was called with, in order.
func (m *Authenticator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
