// Package providers defines how the password grant checks resource owner
// credentials.
//
// The grant engine only sees the Authenticator interface. Implementations live
// in subpackages:
//   - providers/static: an in-memory user table with bcrypt password hashes
//   - providers/upstream: delegates to another OAuth2 server's token endpoint
//     using the resource owner password credentials grant
//   - providers/mock: a configurable Authenticator for tests
//
// Example usage:
//
//	users, err := static.New(map[string]static.User{
//	    "alice": {ID: "u-1", PasswordHash: hash},
//	})
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(repos, codec, users, cfg, logger)
package providers
