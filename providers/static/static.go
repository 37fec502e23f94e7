// Package static provides an Authenticator backed by a fixed user table.
package static

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-grants/providers"
)

// dummyHash is compared against when the username is unknown so that lookups
// of missing users cost the same as a wrong password.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// User is one entry in the table
type User struct {
	// ID is the stable owner identifier; defaults to the username
	ID string

	// PasswordHash is a bcrypt hash
	PasswordHash string
}

// Authenticator checks credentials against an in-memory table.
// It is safe for concurrent use and users can be replaced at runtime.
type Authenticator struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ providers.Authenticator = (*Authenticator)(nil)

// New creates an Authenticator. Every PasswordHash must be a bcrypt hash.
func New(users map[string]User) (*Authenticator, error) {
	a := &Authenticator{users: make(map[string]User, len(users))}
	for name, u := range users {
		if err := a.SetUser(name, u); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// SetUser adds or replaces a user.
func (a *Authenticator) SetUser(username string, u User) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
		return fmt.Errorf("user %q: password hash is not bcrypt: %w", username, err)
	}
	if u.ID == "" {
		u.ID = username
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[username] = u
	return nil
}

// RemoveUser deletes a user; unknown names are ignored.
func (a *Authenticator) RemoveUser(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.users, username)
}

// Name returns "static".
func (a *Authenticator) Name() string { return "static" }

// Authenticate implements providers.Authenticator.
func (a *Authenticator) Authenticate(_ context.Context, username, password string) (*providers.Identity, error) {
	a.mu.RLock()
	u, ok := a.users[username]
	a.mu.RUnlock()

	hash := dummyHash
	if ok {
		hash = u.PasswordHash
	}
	// always run bcrypt; unknown users must not be faster to reject
	match := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil

	if subtle.ConstantTimeEq(boolToInt(ok), 1)&subtle.ConstantTimeEq(boolToInt(match), 1) != 1 {
		return nil, providers.ErrInvalidCredentials
	}
	return &providers.Identity{ID: u.ID, Username: username}, nil
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
