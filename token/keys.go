package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/giantswarm/oauth2-grants/storage"
)

// KeyPair is an RSA signing key with its derived key ID.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	KID     string
}

// NewKeyPair derives the public half and key ID of key.
func NewKeyPair(key *rsa.PrivateKey) (*KeyPair, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	kid, err := computeKID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: key, Public: &key.PublicKey, KID: kid}, nil
}

// LoadPrivateKey reads a PEM-encoded RSA private key from path.
// passphrase is only used for legacy encrypted PEM blocks.
func LoadPrivateKey(path, passphrase string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParsePrivateKeyPEM(data, passphrase)
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key.
// Escaped newlines ("\n" as two characters) are accepted so keys can come from env vars.
func ParsePrivateKeyPEM(data []byte, passphrase string) (*KeyPair, error) {
	normalized := strings.ReplaceAll(string(data), `\n`, "\n")

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}

	der := block.Bytes
	//nolint:staticcheck // RFC 1423 PEM encryption is what "passphrase" refers to
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return nil, fmt.Errorf("private key is encrypted but no passphrase was given")
		}
		var err error
		//nolint:staticcheck
		der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	return parseDER(der)
}

func parseDER(der []byte) (*KeyPair, error) {
	if parsed, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return NewKeyPair(parsed)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unable to parse RSA private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return NewKeyPair(key)
}

// computeKID returns base64url(SHA-256(DER public key)).
func computeKID(pub *rsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(derBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// Codec signs and verifies access tokens with one key pair.
// It is safe for concurrent use; the key is never mutated.
type Codec struct {
	keys *KeyPair
}

// NewCodec returns a Codec for keys.
func NewCodec(keys *KeyPair) (*Codec, error) {
	if keys == nil || keys.Private == nil || keys.Public == nil {
		return nil, fmt.Errorf("key pair is required")
	}
	return &Codec{keys: keys}, nil
}

// Encode signs tok and sets the kid header.
func (c *Codec) Encode(tok *storage.AccessToken) (string, error) {
	return sign(tok, c.keys.Private, c.keys.KID)
}

// Decode verifies raw with the codec's public key.
func (c *Codec) Decode(raw string) (*Claims, error) {
	return Decode(raw, c.keys.Public)
}

// KeyID returns the key ID placed in the kid header.
func (c *Codec) KeyID() string {
	return c.keys.KID
}
