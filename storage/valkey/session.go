package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/giantswarm/oauth2-grants/storage"
)

type sessionJSON struct {
	ID            string `json:"id"`
	ClientID      string `json:"client_id"`
	OwnerType     string `json:"owner_type"`
	OwnerID       string `json:"owner_id"`
	RedirectURI   string `json:"redirect_uri,omitempty"`
	Stage         string `json:"stage"`
	AuthCode      string `json:"auth_code,omitempty"`
	AccessTokenID string `json:"access_token_id,omitempty"`
	Scope         string `json:"scope"`
	CreatedAt     int64  `json:"created_at"`
	ExpiresAt     int64  `json:"expires_at"`
}

func toSessionJSON(s *storage.Session) *sessionJSON {
	return &sessionJSON{
		ID:            s.ID,
		ClientID:      s.ClientID,
		OwnerType:     s.OwnerType,
		OwnerID:       s.OwnerID,
		RedirectURI:   s.RedirectURI,
		Stage:         s.Stage,
		AuthCode:      s.AuthCode,
		AccessTokenID: s.AccessTokenID,
		Scope:         joinScopes(s.Scopes),
		CreatedAt:     s.CreatedAt.Unix(),
		ExpiresAt:     s.ExpiresAt.Unix(),
	}
}

func fromSessionJSON(j *sessionJSON) *storage.Session {
	return &storage.Session{
		ID:            j.ID,
		ClientID:      j.ClientID,
		OwnerType:     j.OwnerType,
		OwnerID:       j.OwnerID,
		RedirectURI:   j.RedirectURI,
		Stage:         j.Stage,
		AuthCode:      j.AuthCode,
		AccessTokenID: j.AccessTokenID,
		Scopes:        splitScopes(j.Scope),
		CreatedAt:     time.Unix(j.CreatedAt, 0),
		ExpiresAt:     time.Unix(j.ExpiresAt, 0),
	}
}

// ============================================================
// SessionStore Implementation
// ============================================================
//
// Session updates are read-modify-write. Single use of the code a session
// carries is enforced by the AuthorizationCodeStore, not here.

// CreateSession persists a new legacy session
func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	if session == nil {
		return fmt.Errorf("invalid session")
	}
	if err := validateID(session.ID, "session_id"); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	if err := s.putSession(ctx, session); err != nil {
		return err
	}

	setKey := s.ownerSessionsKey(session.ClientID, session.OwnerType, session.OwnerID)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(setKey).Member(session.ID).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(setKey).Seconds(int64(s.sessionRetention.Seconds())).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to set session index TTL", "error", err)
	}

	if session.AuthCode != "" {
		if err := s.setLookup(ctx, s.sessionCodeKey(session.AuthCode), session.ID, calculateTTL(session.ExpiresAt)); err != nil {
			return err
		}
	}

	s.logger.Debug("Created session",
		"session_id", session.ID,
		"client_id", session.ClientID)
	return nil
}

// GetSessionByAuthCode finds the session holding an outstanding code
func (s *Store) GetSessionByAuthCode(ctx context.Context, code string) (*storage.Session, error) {
	if err := validateID(code, "code"); err != nil {
		return nil, storage.ErrSessionNotFound
	}
	sess, err := s.sessionByLookup(ctx, s.sessionCodeKey(code))
	if err != nil {
		return nil, err
	}
	if sess.AuthCode != code {
		return nil, storage.ErrSessionNotFound
	}
	return sess, nil
}

// GetSessionByAccessToken finds the session an access token was bound to
func (s *Store) GetSessionByAccessToken(ctx context.Context, accessTokenID string) (*storage.Session, error) {
	if err := validateID(accessTokenID, "token_id"); err != nil {
		return nil, storage.ErrSessionNotFound
	}
	sess, err := s.sessionByLookup(ctx, s.sessionTokenKey(accessTokenID))
	if err != nil {
		return nil, err
	}
	if sess.AccessTokenID != accessTokenID {
		return nil, storage.ErrSessionNotFound
	}
	return sess, nil
}

// AssociateAuthCode attaches a fresh code to a session and resets it to pending
func (s *Store) AssociateAuthCode(ctx context.Context, sessionID, code string, expiresAt time.Time) error {
	if err := validateID(code, "code"); err != nil {
		return err
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.AuthCode != "" && sess.AuthCode != code {
		s.deleteKeys(ctx, s.sessionCodeKey(sess.AuthCode))
	}
	sess.AuthCode = code
	sess.Stage = storage.SessionStagePending
	sess.ExpiresAt = expiresAt

	if err := s.putSession(ctx, sess); err != nil {
		return err
	}
	return s.setLookup(ctx, s.sessionCodeKey(code), sess.ID, calculateTTL(expiresAt))
}

// AssociateAccessToken binds an access token to a session and clears its code
func (s *Store) AssociateAccessToken(ctx context.Context, sessionID, accessTokenID string) error {
	if err := validateID(accessTokenID, "token_id"); err != nil {
		return err
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.AuthCode != "" {
		s.deleteKeys(ctx, s.sessionCodeKey(sess.AuthCode))
	}
	if sess.AccessTokenID != "" && sess.AccessTokenID != accessTokenID {
		s.deleteKeys(ctx, s.sessionTokenKey(sess.AccessTokenID))
	}
	sess.AuthCode = ""
	sess.AccessTokenID = accessTokenID
	sess.Stage = storage.SessionStageGranted

	if err := s.putSession(ctx, sess); err != nil {
		return err
	}
	return s.setLookup(ctx, s.sessionTokenKey(accessTokenID), sess.ID, s.sessionRetention)
}

// AddSessionScope attaches one scope to a session
func (s *Store) AddSessionScope(ctx context.Context, sessionID, scopeID string) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if slices.Contains(sess.Scopes, scopeID) {
		return nil
	}
	sess.Scopes = append(sess.Scopes, scopeID)
	return s.putSession(ctx, sess)
}

// DeleteSessions removes all sessions for a client and owner
func (s *Store) DeleteSessions(ctx context.Context, clientID, ownerType, ownerID string) error {
	setKey := s.ownerSessionsKey(clientID, ownerType, ownerID)

	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(setKey).Build()).AsStrSlice()
	if err != nil && !isNilError(err) {
		return fmt.Errorf("%w: failed to list sessions: %v", storage.ErrUnavailable, err)
	}

	keys := []string{setKey}
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
		sess, err := s.getSession(ctx, id)
		if err != nil {
			continue
		}
		if sess.AuthCode != "" {
			keys = append(keys, s.sessionCodeKey(sess.AuthCode))
		}
		if sess.AccessTokenID != "" {
			keys = append(keys, s.sessionTokenKey(sess.AccessTokenID))
		}
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	s.logger.Debug("Deleted sessions",
		"client_id", clientID,
		"owner_type", ownerType,
		"count", len(ids))
	return nil
}

// ============================================================
// Helpers
// ============================================================

func (s *Store) getSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	if err := validateID(sessionID, "session_id"); err != nil {
		return nil, storage.ErrSessionNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(sessionID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to get session: %v", storage.ErrUnavailable, err)
	}

	var j sessionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return fromSessionJSON(&j), nil
}

// putSession writes a session. Pending sessions live until their code expires,
// granted ones for the configured retention.
func (s *Store) putSession(ctx context.Context, sess *storage.Session) error {
	data, err := json.Marshal(toSessionJSON(sess))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := s.sessionRetention
	if sess.Stage != storage.SessionStageGranted {
		ttl = calculateTTL(sess.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("session already expired")
		}
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.sessionKey(sess.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) sessionByLookup(ctx context.Context, lookupKey string) (*storage.Session, error) {
	sessionID, err := s.client.Do(ctx, s.client.B().Get().Key(lookupKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to resolve session: %v", storage.ErrUnavailable, err)
	}
	return s.getSession(ctx, sessionID)
}

func (s *Store) setLookup(ctx context.Context, key, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session lookup already expired")
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(sessionID).Ex(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save session lookup: %w", err)
	}
	return nil
}

func (s *Store) deleteKeys(ctx context.Context, keys ...string) {
	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		s.logger.Warn("Failed to delete stale session lookup", "error", err)
	}
}
