package providers

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned when the username and password do not
// identify a resource owner. The password grant maps it to invalid_grant.
var ErrInvalidCredentials = errors.New("invalid resource owner credentials")

// Authenticator verifies resource owner credentials for the password grant.
// Any error other than ErrInvalidCredentials is treated as a server failure.
type Authenticator interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Authenticate returns the owner identified by username and password
	Authenticate(ctx context.Context, username, password string) (*Identity, error)
}

// Identity is an authenticated resource owner
type Identity struct {
	// ID becomes the owner ID of issued tokens (the JWT sub claim)
	ID string

	// Username is the login name that was presented
	Username string
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, username, password string) (*Identity, error)

// Name returns "func".
func (f AuthenticatorFunc) Name() string { return "func" }

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	return f(ctx, username, password)
}
