package token

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oauth2-grants/storage"
)

// ErrInvalidToken is returned by Decode for any token that fails verification.
// The underlying cause is wrapped.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the claims carried by an access token.
// Audience is the client ID, ID is the access token ID and Subject is the owner.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes lists the granted scope identifiers
	Scopes []string `json:"scopes"`
}

// ClientID returns the first audience entry, which is the client the token was issued to.
func (c *Claims) ClientID() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

// NewClaims builds the claim set for tok. Issued-at and not-before are both the
// token's issuance time.
func NewClaims(tok *storage.AccessToken) *Claims {
	scopes := tok.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tok.ID,
			Subject:   tok.UserID,
			Audience:  jwt.ClaimStrings{tok.ClientID},
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			NotBefore: jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		},
		Scopes: scopes,
	}
}

// Encode signs tok as an RS256 JWT with key. It has no side effects.
func Encode(tok *storage.AccessToken, key *rsa.PrivateKey) (string, error) {
	return sign(tok, key, "")
}

func sign(tok *storage.AccessToken, key *rsa.PrivateKey, kid string) (string, error) {
	if tok == nil {
		return "", fmt.Errorf("access token is required")
	}
	if key == nil {
		return "", fmt.Errorf("signing key is required")
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, NewClaims(tok))
	if kid != "" {
		t.Header["kid"] = kid
	}

	signed, err := t.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Decode verifies raw against key and returns its claims. Only RS256 is accepted;
// expiry and not-before are enforced. Every failure wraps ErrInvalidToken.
func Decode(raw string, key *rsa.PublicKey) (*Claims, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: verification key is required", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
