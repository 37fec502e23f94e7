// Package server implements the OAuth 2.0 grant engine.
//
// Server validates token and authorization requests, dispatches them to the
// enabled grants and assembles the responses. It holds no state of its own:
// clients, scopes, codes, tokens and sessions live behind the interfaces in
// package storage, and access tokens are signed by a TokenCodec.
//
// Built-in grants:
//   - authorization_code, with optional PKCE (RFC 7636)
//   - client_credentials, for confidential clients only
//   - refresh_token, with rotation and reuse detection
//   - password, delegating owner checks to a providers.Authenticator
//   - implicit, through the "token" response type only
//
// Replaying a used authorization code or a rotated refresh token revokes
// every token the owner holds for that client.
//
// Example usage:
//
//	store := memory.New()
//	codec, err := token.NewCodec(keys)
//	if err != nil {
//	    return err
//	}
//
//	srv, err := server.New(store.Repositories(), codec, nil, &server.Config{
//	    AccessTokenTTL:              3600,
//	    RequirePKCEForPublicClients: true,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := srv.RespondToAccessTokenRequest(ctx, server.NewRequest(form))
//
// Errors returned by the engine are *Error values carrying the RFC 6749
// error code and HTTP status.
package server
