package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/storage"
)

const tokenIDLogLength = 8

const codeColumns = `code, client_id, user_id, redirect_uri, scopes, code_challenge,
	code_challenge_method, created_at, expires_at, used`

const accessTokenColumns = `id, client_id, user_id, scopes, issued_at, expires_at, revoked`

const refreshTokenColumns = `id, access_token_id, client_id, user_id, scopes, issued_at,
	expires_at, revoked, rotation`

func scanCode(row pgx.Row) (*storage.AuthorizationCode, error) {
	c := &storage.AuthorizationCode{}
	err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scopes, &c.CodeChallenge,
		&c.CodeChallengeMethod, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	return c, err
}

func scanAccessToken(row pgx.Row) (*storage.AccessToken, error) {
	t := &storage.AccessToken{}
	err := row.Scan(&t.ID, &t.ClientID, &t.UserID, &t.Scopes, &t.IssuedAt, &t.ExpiresAt, &t.Revoked)
	return t, err
}

func scanRefreshToken(row pgx.Row) (*storage.RefreshToken, error) {
	t := &storage.RefreshToken{}
	err := row.Scan(&t.ID, &t.AccessTokenID, &t.ClientID, &t.UserID, &t.Scopes, &t.IssuedAt,
		&t.ExpiresAt, &t.Revoked, &t.Rotation)
	return t, err
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	if err := code.Validate(); err != nil {
		return fmt.Errorf("invalid authorization code: %w", err)
	}

	query := `INSERT INTO oauth_authorization_codes (` + codeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, nonNil(code.Scopes), code.CodeChallenge,
		code.CodeChallengeMethod, code.CreatedAt, code.ExpiresAt, code.Used,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("authorization code already exists")
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	c, err := scanCode(s.pool.QueryRow(ctx,
		`SELECT `+codeColumns+` FROM oauth_authorization_codes WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, unavailable("failed to get authorization code", err)
	}
	return c, nil
}

// AtomicCheckAndMarkAuthCodeUsed flips the used flag with a conditional UPDATE.
// Exactly one concurrent caller gets a row back; the rest fall through to a
// SELECT that tells not-found, expired and reused apart.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	now := time.Now()

	marked, err := scanCode(s.pool.QueryRow(ctx,
		`UPDATE oauth_authorization_codes SET used = TRUE
		WHERE code = $1 AND used = FALSE AND expires_at >= $2
		RETURNING `+codeColumns, code, now))
	if err == nil {
		s.logger.Debug("Marked authorization code as used",
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
		return marked, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, unavailable("failed to mark authorization code used", err)
	}

	existing, err := s.GetAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if now.After(existing.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	return existing, storage.ErrAuthorizationCodeUsed
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil {
		return fmt.Errorf("invalid access token")
	}
	if err := token.Validate(); err != nil {
		return fmt.Errorf("invalid access token: %w", err)
	}

	query := `INSERT INTO oauth_access_tokens (` + accessTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		token.ID, token.ClientID, token.UserID, nonNil(token.Scopes), token.IssuedAt, token.ExpiresAt, token.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token by identifier
func (s *Store) GetAccessToken(ctx context.Context, tokenID string) (*storage.AccessToken, error) {
	t, err := scanAccessToken(s.pool.QueryRow(ctx,
		`SELECT `+accessTokenColumns+` FROM oauth_access_tokens WHERE id = $1`, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("failed to get access token", err)
	}
	return t, nil
}

// RevokeAccessToken marks an access token revoked. Revoking twice is not an error.
func (s *Store) RevokeAccessToken(ctx context.Context, tokenID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE oauth_access_tokens SET revoked = TRUE WHERE id = $1`, tokenID)
	if err != nil {
		return unavailable("failed to revoke access token", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// FindActiveAccessToken returns the most recently issued live access token held by
// ownerID for clientID.
func (s *Store) FindActiveAccessToken(ctx context.Context, ownerID, clientID string) (*storage.AccessToken, error) {
	t, err := scanAccessToken(s.pool.QueryRow(ctx,
		`SELECT `+accessTokenColumns+` FROM oauth_access_tokens
		WHERE user_id = $1 AND client_id = $2 AND revoked = FALSE AND expires_at > $3
		ORDER BY issued_at DESC LIMIT 1`, ownerID, clientID, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("failed to find active access token", err)
	}
	return t, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken persists a newly issued refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil {
		return fmt.Errorf("invalid refresh token")
	}
	if err := token.Validate(); err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	query := `INSERT INTO oauth_refresh_tokens (` + refreshTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		token.ID, token.AccessTokenID, token.ClientID, token.UserID, nonNil(token.Scopes),
		token.IssuedAt, token.ExpiresAt, token.Revoked, token.Rotation,
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.ID, tokenIDLogLength),
		"rotation", token.Rotation)
	return nil
}

// GetRefreshToken retrieves a refresh token by identifier
func (s *Store) GetRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	t, err := scanRefreshToken(s.pool.QueryRow(ctx,
		`SELECT `+refreshTokenColumns+` FROM oauth_refresh_tokens WHERE id = $1`, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("failed to get refresh token", err)
	}
	return t, nil
}

// AtomicRevokeRefreshToken flips the revoked flag with a conditional UPDATE and
// returns the record as it was before the flip.
func (s *Store) AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	t, err := scanRefreshToken(s.pool.QueryRow(ctx,
		`UPDATE oauth_refresh_tokens SET revoked = TRUE
		WHERE id = $1 AND revoked = FALSE
		RETURNING `+refreshTokenColumns, tokenID))
	if err == nil {
		t.Revoked = false
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, unavailable("failed to revoke refresh token", err)
	}

	existing, err := s.GetRefreshToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return existing, storage.ErrTokenRevoked
}

// ============================================================
// TokenRevocationStore Implementation
// ============================================================

// RevokeAllForOwnerClient revokes all access and refresh tokens for a user+client pair
// inside one transaction.
func (s *Store) RevokeAllForOwnerClient(ctx context.Context, ownerID, clientID string) (int, error) {
	if ownerID == "" || clientID == "" {
		return 0, fmt.Errorf("owner ID and client ID are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, unavailable("failed to begin revocation", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	revoked := 0
	for _, table := range []string{"oauth_access_tokens", "oauth_refresh_tokens"} {
		tag, err := tx.Exec(ctx,
			`UPDATE `+table+` SET revoked = TRUE WHERE user_id = $1 AND client_id = $2 AND revoked = FALSE`,
			ownerID, clientID)
		if err != nil {
			return 0, unavailable("failed to revoke tokens", err)
		}
		revoked += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable("failed to commit revocation", err)
	}

	s.logger.Info("Revoked all tokens for user+client",
		"user_id", ownerID,
		"client_id", clientID,
		"tokens_revoked", revoked)
	return revoked, nil
}

// DeleteExpired removes expired codes, tokens and pending sessions and returns the number of rows deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	var total int64
	for _, query := range []string{
		`DELETE FROM oauth_authorization_codes WHERE expires_at < $1`,
		`DELETE FROM oauth_access_tokens WHERE expires_at < $1`,
		`DELETE FROM oauth_refresh_tokens WHERE expires_at < $1`,
		// granted sessions stay until the owner re-authorizes the client
		`DELETE FROM oauth_sessions WHERE expires_at < $1 AND stage <> '` + storage.SessionStageGranted + `'`,
	} {
		tag, err := s.pool.Exec(ctx, query, now)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired rows: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
