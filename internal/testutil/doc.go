// Package testutil provides testing utilities and fixtures for the oauth2-grants
// library: storage entity fixtures, a shared RSA signing key, PKCE pairs,
// assertions, a mock time source and an HTTP request builder.
package testutil
