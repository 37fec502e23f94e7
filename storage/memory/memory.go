// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// dummyHash is the bcrypt hash compared when a client does not exist,
	// so unknown and known clients cost the same.
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	scopes        map[string]*storage.Scope
	authCodes     map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	sessions      map[string]*storage.Session

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	codesCount         atomic.Int64
	sessionsCount      atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.ScopeStore             = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.AccessTokenStore       = (*Store)(nil)
	_ storage.RefreshTokenStore      = (*Store)(nil)
	_ storage.TokenRevocationStore   = (*Store)(nil)
	_ storage.SessionStore           = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		scopes:          make(map[string]*storage.Scope),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		sessions:        make(map[string]*storage.Session),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// Repositories returns the store wired into every repository slot.
func (s *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Clients:       s,
		Scopes:        s,
		Codes:         s,
		AccessTokens:  s,
		RefreshTokens: s,
		Revocations:   s,
		Sessions:      s,
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.syncCounters()
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.accessTokensCount.Load() },
			func() int64 { return s.refreshTokensCount.Load() },
			func() int64 { return s.codesCount.Load() },
			func() int64 { return s.sessionsCount.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// syncCounters refreshes the metric counters. Caller must hold s.mu.
func (s *Store) syncCounters() {
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.codesCount.Store(int64(len(s.authCodes)))
	s.sessionsCount.Store(int64(len(s.sessions)))
}

// Stop stops the background cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore / ScopeStore Implementation
// ============================================================

// SaveClient registers a client. Registration itself happens out of band;
// this is how hosts and tests seed the store.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ClientID] = client.Clone()
	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client.Clone(), nil
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

// SaveScope registers a scope definition
func (s *Store) SaveScope(ctx context.Context, scope *storage.Scope) error {
	if scope == nil || scope.ID == "" {
		return fmt.Errorf("invalid scope")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.scopes[scope.ID] = scope
	return nil
}

// GetScope retrieves a scope by its identifier
func (s *Store) GetScope(ctx context.Context, scopeID string) (*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.scopes[scopeID]
	if !ok {
		return nil, storage.ErrScopeNotFound
	}
	return scope, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCodes[code.Code] = code.Clone()
	s.codesCount.Store(int64(len(s.authCodes)))

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	return authCode.Clone(), nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
// On reuse the stored code is returned together with ErrAuthorizationCodeUsed so the
// caller can revoke the tokens it produced. Other failures return no record.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "mark_code_used")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "mark_code_used", err, startTime)
	}()

	s.mu.Lock() // write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	if security.IsTokenExpired(authCode.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
		return nil, err
	}

	if authCode.Used {
		err = storage.ErrAuthorizationCodeUsed
		return authCode.Clone(), err
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	return authCode.Clone(), nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil {
		err = fmt.Errorf("invalid access token")
		return err
	}
	if err = token.Validate(); err != nil {
		err = fmt.Errorf("invalid access token: %w", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[token.ID] = token.Clone()
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// GetAccessToken retrieves an access token by identifier
func (s *Store) GetAccessToken(ctx context.Context, tokenID string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.accessTokens[tokenID]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	return token.Clone(), nil
}

// RevokeAccessToken marks an access token revoked
func (s *Store) RevokeAccessToken(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.accessTokens[tokenID]
	if !ok {
		return storage.ErrTokenNotFound
	}
	token.Revoked = true
	return nil
}

// FindActiveAccessToken returns the most recently issued live access token held by
// ownerID for clientID.
func (s *Store) FindActiveAccessToken(ctx context.Context, ownerID, clientID string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *storage.AccessToken
	for _, token := range s.accessTokens {
		if token.UserID != ownerID || token.ClientID != clientID || token.Revoked {
			continue
		}
		if security.IsTokenExpired(token.ExpiresAt) {
			continue
		}
		if found == nil || token.IssuedAt.After(found.IssuedAt) {
			found = token
		}
	}
	if found == nil {
		return nil, storage.ErrTokenNotFound
	}

	return found.Clone(), nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[token.ID] = token.Clone()
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.ID, tokenIDLogLength),
		"rotation", token.Rotation)
	return nil
}

// GetRefreshToken retrieves a refresh token by identifier
func (s *Store) GetRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[tokenID]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	return token.Clone(), nil
}

// AtomicRevokeRefreshToken atomically revokes an unrevoked refresh token.
// Exactly one concurrent caller observes the token as live.
func (s *Store) AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[tokenID]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	before := token.Clone()
	if token.Revoked {
		err = storage.ErrTokenRevoked
		return before, err
	}

	token.Revoked = true
	return before, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.accessTokens {
		if token.UserID == ownerID && token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
			revoked++
		}
	}
	for _, token := range s.refreshTokens {
		if token.UserID == ownerID && token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
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

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	stored.Scopes = slices.Clone(session.Scopes)
	s.sessions[session.ID] = &stored
	s.sessionsCount.Store(int64(len(s.sessions)))
	return nil
}

// GetSessionByAuthCode finds the session holding an outstanding code
func (s *Store) GetSessionByAuthCode(ctx context.Context, code string) (*storage.Session, error) {
	return s.findSession(func(sess *storage.Session) bool {
		return sess.AuthCode != "" && sess.AuthCode == code
	})
}

// GetSessionByAccessToken finds the session an access token was bound to
func (s *Store) GetSessionByAccessToken(ctx context.Context, accessTokenID string) (*storage.Session, error) {
	return s.findSession(func(sess *storage.Session) bool {
		return sess.AccessTokenID != "" && sess.AccessTokenID == accessTokenID
	})
}

func (s *Store) findSession(match func(*storage.Session) bool) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if match(sess) {
			c := *sess
			c.Scopes = slices.Clone(sess.Scopes)
			return &c, nil
		}
	}
	return nil, storage.ErrSessionNotFound
}

// AssociateAuthCode attaches a fresh code to a session and resets it to pending
func (s *Store) AssociateAuthCode(ctx context.Context, sessionID, code string, expiresAt time.Time) error {
	return s.updateSession(sessionID, func(sess *storage.Session) {
		sess.AuthCode = code
		sess.Stage = storage.SessionStagePending
		sess.ExpiresAt = expiresAt
	})
}

// AssociateAccessToken binds an access token to a session and clears its code
func (s *Store) AssociateAccessToken(ctx context.Context, sessionID, accessTokenID string) error {
	return s.updateSession(sessionID, func(sess *storage.Session) {
		sess.AccessTokenID = accessTokenID
		sess.AuthCode = ""
		sess.Stage = storage.SessionStageGranted
	})
}

// AddSessionScope attaches one scope to a session
func (s *Store) AddSessionScope(ctx context.Context, sessionID, scopeID string) error {
	return s.updateSession(sessionID, func(sess *storage.Session) {
		if !slices.Contains(sess.Scopes, scopeID) {
			sess.Scopes = append(sess.Scopes, scopeID)
		}
	})
}

func (s *Store) updateSession(sessionID string, update func(*storage.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrSessionNotFound
	}
	update(sess)
	return nil
}

// DeleteSessions removes all sessions for a client and owner
func (s *Store) DeleteSessions(ctx context.Context, clientID, ownerType, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.ClientID == clientID && sess.OwnerType == ownerType && sess.OwnerID == ownerID {
			delete(s.sessions, id)
		}
	}
	s.sessionsCount.Store(int64(len(s.sessions)))
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired records. Used codes and revoked tokens stay until they
// expire so that replays are still recognised as reuse.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.authCodes {
		if security.IsTokenExpired(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			cleaned++
		}
	}

	for id, token := range s.accessTokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.accessTokens, id)
			cleaned++
		}
	}

	for id, token := range s.refreshTokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.refreshTokens, id)
			cleaned++
		}
	}

	for id, sess := range s.sessions {
		if sess.Stage == storage.SessionStagePending && security.IsTokenExpired(sess.ExpiresAt) {
			delete(s.sessions, id)
			cleaned++
		}
	}

	s.syncCounters()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
