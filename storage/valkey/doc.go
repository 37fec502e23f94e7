// Package valkey provides a Valkey storage backend for the grant engine.
//
// Valkey is wire-compatible with Redis. The Store type implements every
// repository interface in package storage, so a single instance can back
// several authorization server replicas.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}                      -> JSON(Client)
//	{prefix}scope:{scopeID}                        -> JSON(Scope)
//	{prefix}code:{code}                            -> JSON(AuthorizationCode) (TTL)
//	{prefix}access:{tokenID}                       -> JSON(AccessToken) (TTL)
//	{prefix}refresh:{tokenID}                      -> JSON(RefreshToken) (TTL)
//	{prefix}ownerclient:{ownerID}:{clientID}       -> SET of "a:{id}" / "r:{id}"
//	{prefix}session:{sessionID}                    -> JSON(Session)
//	{prefix}session:code:{code}                    -> sessionID
//	{prefix}session:token:{tokenID}                -> sessionID
//	{prefix}sessions:{clientID}:{ownerType}:{owner} -> SET of sessionIDs
//
// Scopes are stored as a space-delimited string inside the JSON documents
// because the Lua cjson encoder turns empty arrays into objects.
//
// # Atomic Operations
//
//   - AtomicCheckAndMarkAuthCodeUsed: flips the used flag of a code
//   - AtomicRevokeRefreshToken: flips the revoked flag of a refresh token
//
// Both run as Lua scripts, so exactly one concurrent caller sees the record
// as live. Losers receive the stored record together with the sentinel error
// so the engine can revoke everything the credential produced.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	srv, err := server.New(store.Repositories(), codec, authenticator, config, logger)
package valkey
