package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
	"github.com/giantswarm/oauth2-grants/storage"
)

func testAccessToken() *storage.AccessToken {
	now := time.Now().Truncate(time.Second)
	return &storage.AccessToken{
		ID:        "jti-1",
		ClientID:  testutil.TestClientID,
		UserID:    testutil.TestUserID,
		Scopes:    []string{"read", "write"},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// ===== Encode / Decode Tests =====

func TestEncodeDecode_RoundTrip(t *testing.T) {
	key := testutil.TestRSAKey(t)
	tok := testAccessToken()

	raw, err := Encode(tok, key)
	testutil.AssertNoError(t, err)

	claims, err := Decode(raw, &key.PublicKey)
	testutil.AssertNoError(t, err)

	if !slices.Equal(claims.Scopes, tok.Scopes) {
		t.Errorf("Scopes = %v, want %v", claims.Scopes, tok.Scopes)
	}
	testutil.AssertEqual(t, claims.Subject, tok.UserID)
	testutil.AssertEqual(t, claims.ID, tok.ID)
	testutil.AssertEqual(t, claims.ClientID(), tok.ClientID)
	if !claims.ExpiresAt.Time.Equal(tok.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, tok.ExpiresAt)
	}
	if !claims.NotBefore.Time.Equal(tok.IssuedAt) || !claims.IssuedAt.Time.Equal(tok.IssuedAt) {
		t.Errorf("iat/nbf = %v/%v, want %v", claims.IssuedAt.Time, claims.NotBefore.Time, tok.IssuedAt)
	}
}

func TestEncode_EmptyScopesEncodeAsArray(t *testing.T) {
	key := testutil.TestRSAKey(t)
	tok := testAccessToken()
	tok.Scopes = nil

	raw, err := Encode(tok, key)
	testutil.AssertNoError(t, err)

	claims, err := Decode(raw, &key.PublicKey)
	testutil.AssertNoError(t, err)
	if claims.Scopes == nil || len(claims.Scopes) != 0 {
		t.Errorf("Scopes = %#v, want empty array", claims.Scopes)
	}
}

func TestEncode_RequiresInputs(t *testing.T) {
	key := testutil.TestRSAKey(t)

	if _, err := Encode(nil, key); err == nil {
		t.Error("expected error for nil token")
	}
	if _, err := Encode(testAccessToken(), nil); err == nil {
		t.Error("expected error for nil key")
	}
}

func TestDecode_Rejects(t *testing.T) {
	key := testutil.TestRSAKey(t)

	valid, err := Encode(testAccessToken(), key)
	testutil.AssertNoError(t, err)

	expiredTok := testAccessToken()
	expiredTok.IssuedAt = time.Now().Add(-2 * time.Hour)
	expiredTok.ExpiresAt = time.Now().Add(-time.Hour)
	expired, err := Encode(expiredTok, key)
	testutil.AssertNoError(t, err)

	futureTok := testAccessToken()
	futureTok.IssuedAt = time.Now().Add(time.Hour)
	futureTok.ExpiresAt = time.Now().Add(2 * time.Hour)
	notYetValid, err := Encode(futureTok, key)
	testutil.AssertNoError(t, err)

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, NewClaims(testAccessToken())).
		SignedString([]byte("shared-secret"))
	testutil.AssertNoError(t, err)

	parts := strings.Split(valid, ".")
	payload := []byte(parts[1])
	mid := len(payload) / 2
	if payload[mid] == 'A' {
		payload[mid] = 'B'
	} else {
		payload[mid] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	tests := []struct {
		name string
		raw  string
	}{
		{"expired", expired},
		{"not yet valid", notYetValid},
		{"wrong algorithm", hs256},
		{"tampered payload", tampered},
		{"malformed", "not.a.jwt"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw, &key.PublicKey)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Decode() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestDecode_WrongKey(t *testing.T) {
	key := testutil.TestRSAKey(t)
	raw, err := Encode(testAccessToken(), key)
	testutil.AssertNoError(t, err)

	if _, err := Decode(raw, &otherRSAKey(t).PublicKey); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() with wrong key error = %v, want ErrInvalidToken", err)
	}
	if _, err := Decode(raw, nil); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() with nil key error = %v, want ErrInvalidToken", err)
	}
}

// ===== Codec Tests =====

func TestCodec_SetsKeyID(t *testing.T) {
	keys, err := NewKeyPair(testutil.TestRSAKey(t))
	testutil.AssertNoError(t, err)

	codec, err := NewCodec(keys)
	testutil.AssertNoError(t, err)

	raw, err := codec.Encode(testAccessToken())
	testutil.AssertNoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, parsed.Header["kid"], codec.KeyID())

	if _, err := codec.Decode(raw); err != nil {
		t.Errorf("codec.Decode() error = %v", err)
	}
}

func TestNewCodec_RequiresKeys(t *testing.T) {
	if _, err := NewCodec(nil); err == nil {
		t.Error("expected error for nil key pair")
	}
}

// ===== Key Loading Tests =====

var (
	otherKeyOnce sync.Once
	otherKey     *rsa.PrivateKey
)

// otherRSAKey returns a second RSA key, distinct from testutil.TestRSAKey
func otherRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	otherKeyOnce.Do(func() {
		otherKey, _ = rsa.GenerateKey(rand.Reader, 2048)
	})
	if otherKey == nil {
		t.Fatal("failed to generate RSA key")
	}
	return otherKey
}

func TestParsePrivateKeyPEM(t *testing.T) {
	key := testutil.TestRSAKey(t)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(key)
	testutil.AssertNoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8DER})

	escaped := []byte(strings.ReplaceAll(string(pkcs1), "\n", `\n`))

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	testutil.AssertNoError(t, err)
	ecDER, err := x509.MarshalPKCS8PrivateKey(ecKey)
	testutil.AssertNoError(t, err)
	ecPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: ecDER})

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"pkcs1", pkcs1, false},
		{"pkcs8", pkcs8, false},
		{"escaped newlines", escaped, false},
		{"not pem", []byte("garbage"), true},
		{"not rsa", ecPEM, true},
	}

	wantKID, err := computeKID(&key.PublicKey)
	testutil.AssertNoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrivateKeyPEM(tt.data, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrivateKeyPEM() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.KID != wantKID {
				t.Errorf("KID = %q, want %q", got.KID, wantKID)
			}
		})
	}
}

func TestParsePrivateKeyPEM_Encrypted(t *testing.T) {
	key := testutil.TestRSAKey(t)

	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(key), []byte("hunter2"), x509.PEMCipherAES256)
	testutil.AssertNoError(t, err)
	data := pem.EncodeToMemory(block)

	if _, err := ParsePrivateKeyPEM(data, ""); err == nil {
		t.Error("expected error without passphrase")
	}
	if _, err := ParsePrivateKeyPEM(data, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
	got, err := ParsePrivateKeyPEM(data, "hunter2")
	testutil.AssertNoError(t, err)
	if !got.Private.Equal(key) {
		t.Error("decrypted key does not match")
	}
}

func TestLoadPrivateKey(t *testing.T) {
	key := testutil.TestRSAKey(t)
	path := filepath.Join(t.TempDir(), "signing.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	got, err := LoadPrivateKey(path, "")
	testutil.AssertNoError(t, err)
	if !got.Public.Equal(&key.PublicKey) {
		t.Error("loaded public key does not match")
	}

	if _, err := LoadPrivateKey(filepath.Join(t.TempDir(), "missing.pem"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}
