package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/oauth2-grants/providers"
)

func TestAuthenticator(t *testing.T) {
	m := NewAuthenticator(map[string]string{"alice": "pw"})

	id, err := m.Authenticate(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id.ID != "alice" {
		t.Errorf("ID = %q, want alice", id.ID)
	}

	if _, err := m.Authenticate(context.Background(), "alice", "nope"); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}

	calls := m.Calls()
	if len(calls) != 2 || calls[0] != "alice" {
		t.Errorf("Calls() = %v", calls)
	}
}

func TestAuthenticator_NilFunc(t *testing.T) {
	m := &Authenticator{}
	if _, err := m.Authenticate(context.Background(), "x", "y"); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
}
