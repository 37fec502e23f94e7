package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// DefaultSessionRetention is how long a granted legacy session is kept
	DefaultSessionRetention = 30 * 24 * time.Hour

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers (codes, token IDs, client IDs)
	MaxIDLength = 512

	// scopeSeparator joins scopes inside stored JSON; Lua's cjson cannot round-trip empty arrays
	scopeSeparator = " "
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// SessionRetention is how long granted legacy sessions are kept (default 30 days)
	SessionRetention time.Duration
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client           valkeygo.Client
	prefix           string
	logger           *slog.Logger
	sessionRetention time.Duration
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

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.SessionRetention
	if retention <= 0 {
		retention = DefaultSessionRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:           client,
		prefix:           prefix,
		logger:           logger,
		sessionRetention: retention,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
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

// validateID rejects empty and oversized identifiers before they become keys
func validateID(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, MaxIDLength)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// scopeKey returns {prefix}scope:{scopeID}
func (s *Store) scopeKey(scopeID string) string {
	return fmt.Sprintf("%sscope:%s", s.prefix, scopeID)
}

// codeKey returns {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// accessTokenKey returns {prefix}access:{tokenID}
func (s *Store) accessTokenKey(tokenID string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, tokenID)
}

// refreshTokenKey returns {prefix}refresh:{tokenID}
func (s *Store) refreshTokenKey(tokenID string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, tokenID)
}

// ownerClientKey returns {prefix}ownerclient:{ownerID}:{clientID}, a SET of token keys
func (s *Store) ownerClientKey(ownerID, clientID string) string {
	return fmt.Sprintf("%sownerclient:%s:%s", s.prefix, ownerID, clientID)
}

// sessionKey returns {prefix}session:{sessionID}
func (s *Store) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, sessionID)
}

// sessionCodeKey returns {prefix}session:code:{code} -> sessionID
func (s *Store) sessionCodeKey(code string) string {
	return fmt.Sprintf("%ssession:code:%s", s.prefix, code)
}

// sessionTokenKey returns {prefix}session:token:{tokenID} -> sessionID
func (s *Store) sessionTokenKey(tokenID string) string {
	return fmt.Sprintf("%ssession:token:%s", s.prefix, tokenID)
}

// ownerSessionsKey returns {prefix}sessions:{clientID}:{ownerType}:{ownerID}, a SET of session IDs
func (s *Store) ownerSessionsKey(clientID, ownerType, ownerID string) string {
	return fmt.Sprintf("%ssessions:%s:%s:%s", s.prefix, clientID, ownerType, ownerID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Single-use credentials are flipped inside Lua scripts so that exactly one
// concurrent caller observes them as live.

// luaAtomicCheckAndMarkCodeUsed atomically checks if an authorization code is
// unused and marks it as used.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - Original JSON data if code was unused and is now marked used
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if ARGV[1] > code.expires_at
//   - "ALREADY_USED:<json>" if code was already used (data returned for revocation)
const luaAtomicCheckAndMarkCodeUsed = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// luaAtomicRevoke atomically sets revoked=true on a stored token.
//
// KEYS[1] = token key
//
// Returns:
//   - Original JSON data if the token was live and is now revoked
//   - "NOT_FOUND" if the key doesn't exist
//   - "ALREADY_REVOKED:<json>" if the token was already revoked
const luaAtomicRevoke = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)
if token.revoked then
    return 'ALREADY_REVOKED:' .. data
end

token.revoked = true
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')

return data
`

// ============================================================
// Helpers
// ============================================================

func joinScopes(scopes []string) string {
	return util.JoinScopes(scopes, scopeSeparator)
}

func splitScopes(raw string) []string {
	return util.SplitScopes(raw, scopeSeparator)
}

// calculateTTL calculates the TTL for a key based on expiry time
// Returns 0 if the key has already expired
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
