// Package testutil provides testing utilities and helpers for the oauth2-grants library.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-grants/storage"
)

// Fixture values shared by package tests
const (
	TestClientID     = "abc"
	TestClientSecret = "s3cr3t"
	TestRedirectURI  = "https://app.example/cb"
	TestUserID       = "user-123"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
	rsaKeyErr  error
)

// TestRSAKey returns a process-wide 2048-bit RSA key. Generating one per test is slow.
func TestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		rsaKey, rsaKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if rsaKeyErr != nil {
		t.Fatalf("failed to generate RSA key: %v", rsaKeyErr)
	}
	return rsaKey
}

// HashSecret returns a low-cost bcrypt hash of secret for fixtures
func HashSecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(hash)
}

// GenerateTestClient creates a confidential client with secret TestClientSecret
func GenerateTestClient(t *testing.T, scopes ...string) *storage.Client {
	t.Helper()
	return &storage.Client{
		ClientID:         TestClientID,
		ClientSecretHash: HashSecret(t, TestClientSecret),
		ClientType:       storage.ClientTypeConfidential,
		RedirectURIs:     []string{TestRedirectURI},
		Scopes:           scopes,
		ClientName:       "Test Client",
		CreatedAt:        time.Now(),
	}
}

// GenerateTestPublicClient creates a public client without a secret
func GenerateTestPublicClient(clientID string, scopes ...string) *storage.Client {
	return &storage.Client{
		ClientID:     clientID,
		ClientType:   storage.ClientTypePublic,
		RedirectURIs: []string{TestRedirectURI},
		Scopes:       scopes,
		ClientName:   "Test Public Client",
		CreatedAt:    time.Now(),
	}
}

// GenerateTestAuthorizationCode creates an unused code for TestClientID and TestUserID
func GenerateTestAuthorizationCode(scopes ...string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(40),
		ClientID:    TestClientID,
		UserID:      TestUserID,
		RedirectURI: TestRedirectURI,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// GenerateTestAccessToken creates an access token record for TestClientID and TestUserID
func GenerateTestAccessToken(scopes ...string) *storage.AccessToken {
	now := time.Now()
	return &storage.AccessToken{
		ID:        GenerateRandomString(32),
		ClientID:  TestClientID,
		UserID:    TestUserID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// GenerateTestRefreshToken creates a refresh token paired with access
func GenerateTestRefreshToken(access *storage.AccessToken) *storage.RefreshToken {
	now := time.Now()
	return &storage.RefreshToken{
		ID:            GenerateRandomString(43),
		AccessTokenID: access.ID,
		ClientID:      access.ClientID,
		UserID:        access.UserID,
		Scopes:        access.Scopes,
		IssuedAt:      now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 PKCE challenge and verifier pair for testing.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Form    url.Values
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithForm sets a form-encoded request body
func (r *HTTPRequest) WithForm(form url.Values) *HTTPRequest {
	r.Form = form
	r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	return r
}

// WithBasicAuth sets HTTP Basic client credentials
func (r *HTTPRequest) WithBasicAuth(user, password string) *HTTPRequest {
	creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	r.Headers["Authorization"] = "Basic " + creds
	return r
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	var body *strings.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(r.Method, r.URL, body)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
