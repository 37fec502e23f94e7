package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/oauth2-grants/storage"
)

const sessionColumns = `id, client_id, owner_type, owner_id, redirect_uri, stage, auth_code,
	access_token_id, scopes, created_at, expires_at`

func scanSession(row pgx.Row) (*storage.Session, error) {
	sess := &storage.Session{}
	err := row.Scan(&sess.ID, &sess.ClientID, &sess.OwnerType, &sess.OwnerID, &sess.RedirectURI,
		&sess.Stage, &sess.AuthCode, &sess.AccessTokenID, &sess.Scopes, &sess.CreatedAt, &sess.ExpiresAt)
	return sess, err
}

// ============================================================
// SessionStore Implementation
// ============================================================

// CreateSession persists a new legacy session
func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	if session == nil {
		return fmt.Errorf("invalid session")
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	query := `INSERT INTO oauth_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		session.ID, session.ClientID, session.OwnerType, session.OwnerID, session.RedirectURI,
		session.Stage, session.AuthCode, session.AccessTokenID, nonNil(session.Scopes),
		session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session already exists")
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByAuthCode finds the session holding an outstanding code
func (s *Store) GetSessionByAuthCode(ctx context.Context, code string) (*storage.Session, error) {
	if code == "" {
		return nil, storage.ErrSessionNotFound
	}
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM oauth_sessions WHERE auth_code = $1`, code)
}

// GetSessionByAccessToken finds the session an access token was bound to
func (s *Store) GetSessionByAccessToken(ctx context.Context, accessTokenID string) (*storage.Session, error) {
	if accessTokenID == "" {
		return nil, storage.ErrSessionNotFound
	}
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM oauth_sessions WHERE access_token_id = $1`, accessTokenID)
}

// AssociateAuthCode attaches a fresh code to a session and resets it to pending
func (s *Store) AssociateAuthCode(ctx context.Context, sessionID, code string, expiresAt time.Time) error {
	return s.execSession(ctx,
		`UPDATE oauth_sessions SET auth_code = $2, stage = $3, expires_at = $4 WHERE id = $1`,
		sessionID, code, storage.SessionStagePending, expiresAt)
}

// AssociateAccessToken binds an access token to a session and clears its code
func (s *Store) AssociateAccessToken(ctx context.Context, sessionID, accessTokenID string) error {
	return s.execSession(ctx,
		`UPDATE oauth_sessions SET access_token_id = $2, auth_code = '', stage = $3 WHERE id = $1`,
		sessionID, accessTokenID, storage.SessionStageGranted)
}

// AddSessionScope attaches one scope to a session
func (s *Store) AddSessionScope(ctx context.Context, sessionID, scopeID string) error {
	return s.execSession(ctx,
		`UPDATE oauth_sessions
		SET scopes = CASE WHEN $2 = ANY(scopes) THEN scopes ELSE array_append(scopes, $2) END
		WHERE id = $1`,
		sessionID, scopeID)
}

// DeleteSessions removes all sessions for a client and owner
func (s *Store) DeleteSessions(ctx context.Context, clientID, ownerType, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM oauth_sessions WHERE client_id = $1 AND owner_type = $2 AND owner_id = $3`,
		clientID, ownerType, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	s.logger.Debug("Deleted sessions",
		"client_id", clientID,
		"owner_type", ownerType,
		"count", tag.RowsAffected())
	return nil
}

func (s *Store) querySession(ctx context.Context, query string, arg string) (*storage.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, unavailable("failed to get session", err)
	}
	return sess, nil
}

func (s *Store) execSession(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return unavailable("failed to update session", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}
