// Package storage provides the entity model and repository interfaces of the
// authorization server.
//
// The grant engine depends only on the narrow interfaces defined here:
//   - ClientStore: client lookup and secret verification
//   - ScopeStore: scope lookup
//   - AuthorizationCodeStore: codes with an atomic mark-used operation
//   - AccessTokenStore and RefreshTokenStore: issued tokens with atomic rotation
//   - SessionStore: sessions of the legacy authorization-code flow
//
// Single-use credentials rely on the adapters' atomic conditional updates.
// No adapter may let a used code or revoked refresh token become valid again.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/postgres: PostgreSQL storage on pgx
package storage
