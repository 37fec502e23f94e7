package server

import (
	"crypto/subtle"
	"regexp"

	"golang.org/x/oauth2"
)

// PKCE code challenge methods (RFC 7636)
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// unreserved = ALPHA / DIGIT / "-" / "." / "_" / "~"
var pkceCharset = regexp.MustCompile(`^[A-Za-z0-9\-._~]+$`)

// validateCodeChallenge checks a challenge sent to the authorization endpoint
// and returns the effective method.
func (s *Server) validateCodeChallenge(challenge, method string) (string, error) {
	if challenge == "" {
		if method != "" {
			return "", ErrInvalidRequest("code_challenge_method without code_challenge")
		}
		return "", nil
	}
	if method == "" {
		// RFC 7636 section 4.3 default
		method = PKCEMethodPlain
	}
	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlainMethod {
			return "", ErrInvalidRequest("code_challenge_method plain is not allowed")
		}
	default:
		return "", ErrInvalidRequest("unsupported code_challenge_method")
	}
	if len(challenge) < minVerifierLength || len(challenge) > maxVerifierLength || !pkceCharset.MatchString(challenge) {
		return "", ErrInvalidRequest("invalid code_challenge")
	}
	return method, nil
}

// verifyPKCE checks verifier against a stored challenge in constant time.
func verifyPKCE(challenge, method, verifier string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength || !pkceCharset.MatchString(verifier) {
		return false
	}

	computed := verifier
	if method == PKCEMethodS256 {
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
