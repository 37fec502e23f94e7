package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-grants/storage"
)

// dummyHash is compared against when a client is unknown or has no secret so
// that lookups take the same time either way.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	ClientType       string   `json:"client_type"`
	RedirectURIs     []string `json:"redirect_uris,omitempty"`
	GrantTypes       []string `json:"grant_types,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	DefaultScopes    []string `json:"default_scopes,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		ClientType:       c.ClientType,
		RedirectURIs:     c.RedirectURIs,
		GrantTypes:       c.GrantTypes,
		Scopes:           c.Scopes,
		DefaultScopes:    c.DefaultScopes,
		ClientName:       c.ClientName,
		CreatedAt:        c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		ClientType:       j.ClientType,
		RedirectURIs:     j.RedirectURIs,
		GrantTypes:       j.GrantTypes,
		Scopes:           j.Scopes,
		DefaultScopes:    j.DefaultScopes,
		ClientName:       j.ClientName,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateID(client.ClientID, "client_id"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := validateID(clientID, "client_id"); err != nil {
		return nil, storage.ErrClientNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("%w: failed to get client: %v", storage.ErrUnavailable, err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// The comparison always runs, against a dummy hash when the client is unknown.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil || client.ClientSecretHash == "" || bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// ============================================================
// ScopeStore Implementation
// ============================================================

type scopeJSON struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// SaveScope registers a scope definition
func (s *Store) SaveScope(ctx context.Context, scope *storage.Scope) error {
	if scope == nil {
		return fmt.Errorf("invalid scope")
	}
	if err := validateID(scope.ID, "scope"); err != nil {
		return err
	}

	data, err := json.Marshal(&scopeJSON{ID: scope.ID, Description: scope.Description})
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.scopeKey(scope.ID)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save scope: %w", err)
	}
	return nil
}

// GetScope retrieves a scope by its identifier
func (s *Store) GetScope(ctx context.Context, scopeID string) (*storage.Scope, error) {
	if err := validateID(scopeID, "scope"); err != nil {
		return nil, storage.ErrScopeNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.scopeKey(scopeID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrScopeNotFound
		}
		return nil, fmt.Errorf("%w: failed to get scope: %v", storage.ErrUnavailable, err)
	}

	var j scopeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	return &storage.Scope{ID: j.ID, Description: j.Description}, nil
}
