package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/storage"
)

const (
	// ownerClientAccessPrefix and ownerClientRefreshPrefix tag members of an owner+client set
	ownerClientAccessPrefix  = "a:"
	ownerClientRefreshPrefix = "r:"
)

type accessTokenJSON struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	UserID    string `json:"user_id"`
	Scope     string `json:"scope"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		ID:        t.ID,
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Scope:     joinScopes(t.Scopes),
		IssuedAt:  t.IssuedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
		Revoked:   t.Revoked,
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		ID:        j.ID,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		Scopes:    splitScopes(j.Scope),
		IssuedAt:  time.Unix(j.IssuedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
		Revoked:   j.Revoked,
	}
}

type refreshTokenJSON struct {
	ID            string `json:"id"`
	AccessTokenID string `json:"access_token_id"`
	ClientID      string `json:"client_id"`
	UserID        string `json:"user_id"`
	Scope         string `json:"scope"`
	IssuedAt      int64  `json:"issued_at"`
	ExpiresAt     int64  `json:"expires_at"`
	Revoked       bool   `json:"revoked"`
	Rotation      int    `json:"rotation"`
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		ID:            t.ID,
		AccessTokenID: t.AccessTokenID,
		ClientID:      t.ClientID,
		UserID:        t.UserID,
		Scope:         joinScopes(t.Scopes),
		IssuedAt:      t.IssuedAt.Unix(),
		ExpiresAt:     t.ExpiresAt.Unix(),
		Revoked:       t.Revoked,
		Rotation:      t.Rotation,
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		ID:            j.ID,
		AccessTokenID: j.AccessTokenID,
		ClientID:      j.ClientID,
		UserID:        j.UserID,
		Scopes:        splitScopes(j.Scope),
		IssuedAt:      time.Unix(j.IssuedAt, 0),
		ExpiresAt:     time.Unix(j.ExpiresAt, 0),
		Revoked:       j.Revoked,
		Rotation:      j.Rotation,
	}
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly issued access token and indexes it under its owner+client pair
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil {
		return fmt.Errorf("invalid access token")
	}
	if err := validateID(token.ID, "token_id"); err != nil {
		return err
	}
	if err := token.Validate(); err != nil {
		return fmt.Errorf("invalid access token: %w", err)
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.accessTokenKey(token.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.indexOwnerClient(ctx, token.UserID, token.ClientID, ownerClientAccessPrefix+token.ID, ttl)
	return nil
}

// GetAccessToken retrieves an access token by identifier
func (s *Store) GetAccessToken(ctx context.Context, tokenID string) (*storage.AccessToken, error) {
	if err := validateID(tokenID, "token_id"); err != nil {
		return nil, storage.ErrTokenNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.accessTokenKey(tokenID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: failed to get access token: %v", storage.ErrUnavailable, err)
	}

	var j accessTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	return fromAccessTokenJSON(&j), nil
}

// RevokeAccessToken marks an access token revoked. Revoking twice is not an error.
func (s *Store) RevokeAccessToken(ctx context.Context, tokenID string) error {
	if err := validateID(tokenID, "token_id"); err != nil {
		return storage.ErrTokenNotFound
	}

	result, err := s.evalRevoke(ctx, s.accessTokenKey(tokenID))
	if err != nil {
		return err
	}
	if result == "NOT_FOUND" {
		return storage.ErrTokenNotFound
	}
	return nil
}

// FindActiveAccessToken returns the most recently issued live access token held by
// ownerID for clientID.
func (s *Store) FindActiveAccessToken(ctx context.Context, ownerID, clientID string) (*storage.AccessToken, error) {
	members, err := s.ownerClientMembers(ctx, ownerID, clientID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var found *storage.AccessToken
	for _, member := range members {
		tokenID, ok := strings.CutPrefix(member, ownerClientAccessPrefix)
		if !ok {
			continue
		}
		token, err := s.GetAccessToken(ctx, tokenID)
		if err != nil {
			continue
		}
		if token.Revoked || !now.Before(token.ExpiresAt) {
			continue
		}
		if found == nil || token.IssuedAt.After(found.IssuedAt) {
			found = token
		}
	}

	if found == nil {
		return nil, storage.ErrTokenNotFound
	}
	return found, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken persists a newly issued refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil {
		return fmt.Errorf("invalid refresh token")
	}
	if err := validateID(token.ID, "token_id"); err != nil {
		return err
	}
	if err := token.Validate(); err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.refreshTokenKey(token.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.indexOwnerClient(ctx, token.UserID, token.ClientID, ownerClientRefreshPrefix+token.ID, ttl)

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.ID, tokenIDLogLength),
		"rotation", token.Rotation)
	return nil
}

// GetRefreshToken retrieves a refresh token by identifier
func (s *Store) GetRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	if err := validateID(tokenID, "token_id"); err != nil {
		return nil, storage.ErrTokenNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.refreshTokenKey(tokenID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: failed to get refresh token: %v", storage.ErrUnavailable, err)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	return fromRefreshTokenJSON(&j), nil
}

// AtomicRevokeRefreshToken atomically revokes an unrevoked refresh token.
// Exactly one concurrent caller observes the token as live; the Lua script
// returns the record as stored before the flip.
func (s *Store) AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	if err := validateID(tokenID, "token_id"); err != nil {
		return nil, storage.ErrTokenNotFound
	}

	result, err := s.evalRevoke(ctx, s.refreshTokenKey(tokenID))
	if err != nil {
		return nil, err
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case strings.HasPrefix(result, "ALREADY_REVOKED:"):
		var j refreshTokenJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_REVOKED:")), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse revoked token", storage.ErrTokenRevoked)
		}
		return fromRefreshTokenJSON(&j), storage.ErrTokenRevoked
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	s.logger.Debug("Revoked refresh token",
		"token_prefix", util.SafeTruncate(tokenID, tokenIDLogLength))
	return fromRefreshTokenJSON(&j), nil
}

// ============================================================
// TokenRevocationStore Implementation
// ============================================================

// RevokeAllForOwnerClient revokes all access and refresh tokens for a user+client pair.
// Called when authorization code or refresh token reuse is detected.
func (s *Store) RevokeAllForOwnerClient(ctx context.Context, ownerID, clientID string) (int, error) {
	if ownerID == "" || clientID == "" {
		return 0, fmt.Errorf("owner ID and client ID are required")
	}

	members, err := s.ownerClientMembers(ctx, ownerID, clientID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, member := range members {
		var key string
		switch {
		case strings.HasPrefix(member, ownerClientAccessPrefix):
			key = s.accessTokenKey(strings.TrimPrefix(member, ownerClientAccessPrefix))
		case strings.HasPrefix(member, ownerClientRefreshPrefix):
			key = s.refreshTokenKey(strings.TrimPrefix(member, ownerClientRefreshPrefix))
		default:
			continue
		}

		result, err := s.evalRevoke(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to revoke token during bulk revocation",
				"token_prefix", util.SafeTruncate(member, tokenIDLogLength),
				"error", err)
			continue
		}
		if result != "NOT_FOUND" && !strings.HasPrefix(result, "ALREADY_REVOKED:") {
			revoked++
		}
	}

	s.logger.Info("Revoked all tokens for user+client",
		"user_id", ownerID,
		"client_id", clientID,
		"tokens_revoked", revoked)

	return revoked, nil
}

// ============================================================
// Helpers
// ============================================================

func (s *Store) evalRevoke(ctx context.Context, key string) (string, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAtomicRevoke).
			Numkeys(1).
			Key(key).
			Build(),
	).ToString()
	if err != nil {
		return "", fmt.Errorf("%w: failed to execute atomic revoke: %v", storage.ErrUnavailable, err)
	}
	return result, nil
}

// indexOwnerClient adds member to the owner+client set. The set only ever grows its TTL
// so it outlives every token it references. Failures are logged; the token itself is stored.
func (s *Store) indexOwnerClient(ctx context.Context, ownerID, clientID, member string, ttl time.Duration) {
	key := s.ownerClientKey(ownerID, clientID)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(key).Member(member).Build()).Error(); err != nil {
		s.logger.Warn("Failed to index token under owner+client",
			"client_id", clientID,
			"error", err)
		return
	}
	// GT treats a key without TTL as infinite, so a fresh set needs NX first
	seconds := int64(ttl.Seconds()) + 1
	if err := s.client.Do(ctx, s.client.B().Expire().Key(key).Seconds(seconds).Nx().Build()).Error(); err != nil {
		s.logger.Warn("Failed to set owner+client index TTL", "error", err)
		return
	}
	if err := s.client.Do(ctx, s.client.B().Expire().Key(key).Seconds(seconds).Gt().Build()).Error(); err != nil {
		s.logger.Warn("Failed to extend owner+client index TTL", "error", err)
	}
}

func (s *Store) ownerClientMembers(ctx context.Context, ownerID, clientID string) ([]string, error) {
	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.ownerClientKey(ownerID, clientID)).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to list owner+client tokens: %v", storage.ErrUnavailable, err)
	}
	return members, nil
}
