// Package memory provides an in-memory implementation of the storage interfaces.
//
// All repositories (clients, scopes, codes, access and refresh tokens, legacy
// sessions) live in maps guarded by a single sync.RWMutex, so the atomic
// mark-used and revoke operations are plain check-and-set under the write lock.
// A background goroutine drops expired records; call Stop to end it.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store.Repositories(), codec, authenticator, config, logger)
package memory
