// Package token encodes access tokens as RS256-signed JWTs and verifies them.
//
// Encode and Decode are pure functions of a token and a key. Codec bundles a
// KeyPair so the engine can sign with a stable kid header:
//
//	keys, err := token.LoadPrivateKey("/etc/oauth/signing.pem", os.Getenv("KEY_PASSPHRASE"))
//	if err != nil {
//	    return err
//	}
//	codec, err := token.NewCodec(keys)
//
// Claims carry aud (client ID), jti (access token ID), sub (owner), iat, nbf,
// exp and a scopes array.
package token
