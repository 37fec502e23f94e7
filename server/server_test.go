package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
	"github.com/giantswarm/oauth2-grants/providers"
	"github.com/giantswarm/oauth2-grants/providers/mock"
	"github.com/giantswarm/oauth2-grants/storage"
	"github.com/giantswarm/oauth2-grants/storage/memory"
	"github.com/giantswarm/oauth2-grants/token"
)

const (
	testPublicClientID    = "pub"
	testOtherClientID     = "other"
	testOtherClientSecret = "0th3r"
	testUsername          = "alice"
	testPassword          = "wonderland"
)

// testEnv is a grant engine over a seeded memory store
type testEnv struct {
	srv    *Server
	store  *memory.Store
	clock  *testutil.MockTime
	codec  *token.Codec
	client *storage.Client
	auth   *mock.Authenticator
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	store.SetLogger(testLogger())
	t.Cleanup(store.Stop)

	for _, id := range []string{"read", "write", "admin"} {
		if err := store.SaveScope(ctx, &storage.Scope{ID: id}); err != nil {
			t.Fatalf("SaveScope(%s) error = %v", id, err)
		}
	}

	client := testutil.GenerateTestClient(t, "read", "write")
	other := testutil.GenerateTestClient(t, "read", "write")
	other.ClientID = testOtherClientID
	other.ClientSecretHash = testutil.HashSecret(t, testOtherClientSecret)
	public := testutil.GenerateTestPublicClient(testPublicClientID, "read", "write")
	for _, c := range []*storage.Client{client, other, public} {
		if err := store.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient(%s) error = %v", c.ClientID, err)
		}
	}

	keys, err := token.NewKeyPair(testutil.TestRSAKey(t))
	testutil.AssertNoError(t, err)
	codec, err := token.NewCodec(keys)
	testutil.AssertNoError(t, err)

	auth := mock.NewAuthenticator(map[string]string{testUsername: testPassword})

	srv, err := New(store.Repositories(), codec, auth, cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clock := testutil.NewMockTime(time.Now().Truncate(time.Second))
	srv.now = clock.Now

	return &testEnv{srv: srv, store: store, clock: clock, codec: codec, client: client, auth: auth}
}

// updateClient applies mutate to the test client and stores the result
func (e *testEnv) updateClient(t *testing.T, mutate func(*storage.Client)) {
	t.Helper()
	mutate(e.client)
	testutil.AssertNoError(t, e.store.SaveClient(context.Background(), e.client))
}

// tokenRequest authenticates as the confidential test client with Basic auth
func tokenRequest(form url.Values) *Request {
	return NewRequest(form).WithBasicAuth(testutil.TestClientID, testutil.TestClientSecret)
}

// seedTokenPair stores an access and refresh token for the test client and owner
func (e *testEnv) seedTokenPair(t *testing.T, scopes ...string) (*storage.AccessToken, *storage.RefreshToken) {
	t.Helper()
	ctx := context.Background()
	access := testutil.GenerateTestAccessToken(scopes...)
	refresh := testutil.GenerateTestRefreshToken(access)
	testutil.AssertNoError(t, e.store.SaveAccessToken(ctx, access))
	testutil.AssertNoError(t, e.store.SaveRefreshToken(ctx, refresh))
	return access, refresh
}

// seedCode stores an authorization code for the test client and owner
func (e *testEnv) seedCode(t *testing.T, mutate func(*storage.AuthorizationCode)) *storage.AuthorizationCode {
	t.Helper()
	code := testutil.GenerateTestAuthorizationCode("read")
	if mutate != nil {
		mutate(code)
	}
	testutil.AssertNoError(t, e.store.SaveAuthorizationCode(context.Background(), code))
	return code
}

func (e *testEnv) decode(t *testing.T, raw string) *token.Claims {
	t.Helper()
	claims, err := e.codec.Decode(raw)
	if err != nil {
		t.Fatalf("failed to decode access token: %v", err)
	}
	return claims
}

// concurrentTokenRequests sends form from workers goroutines at once and
// returns the successful responses and the errors.
func concurrentTokenRequests(env *testEnv, workers int, form url.Values) ([]*TokenResponse, []error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		resps []*TokenResponse
		errs  []error
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(form))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			resps = append(resps, resp)
		}()
	}
	close(start)
	wg.Wait()
	return resps, errs
}

// assertOAuthError fails unless err is an *Error with the given code
func assertOAuthError(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var oe *Error
	if !errors.As(err, &oe) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if oe.Code != code {
		t.Errorf("error code = %q, want %q (%v)", oe.Code, code, err)
	}
}

// ===== New Tests =====

func TestNew_Validation(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	keys, err := token.NewKeyPair(testutil.TestRSAKey(t))
	testutil.AssertNoError(t, err)
	codec, err := token.NewCodec(keys)
	testutil.AssertNoError(t, err)

	withoutRevocations := store.Repositories()
	withoutRevocations.Revocations = nil

	tests := []struct {
		name   string
		repos  storage.Repositories
		codec  TokenCodec
		auth   providers.Authenticator
		config *Config
	}{
		{"no stores", storage.Repositories{}, codec, nil, nil},
		{"no revocation store", withoutRevocations, codec, nil, nil},
		{"no codec", store.Repositories(), nil, nil, nil},
		{"password without authenticator", store.Repositories(), codec, nil, &Config{GrantTypes: []GrantType{GrantTypePassword}}},
		{"unknown grant type", store.Repositories(), codec, nil, &Config{GrantTypes: []GrantType{"urn:unknown"}}},
		{"unknown response type", store.Repositories(), codec, nil, &Config{ResponseTypes: []string{"id_token"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.repos, tt.codec, tt.auth, tt.config, testLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_SessionsOptional(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	keys, err := token.NewKeyPair(testutil.TestRSAKey(t))
	testutil.AssertNoError(t, err)
	codec, err := token.NewCodec(keys)
	testutil.AssertNoError(t, err)

	repos := store.Repositories()
	repos.Sessions = nil
	if _, err := New(repos, codec, nil, nil, testLogger()); err != nil {
		t.Errorf("New() without session store error = %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	env := newTestEnv(t, nil)

	testutil.AssertEqual(t, env.srv.Config.AccessTokenTTL, int64(DefaultAccessTokenTTL))
	testutil.AssertEqual(t, env.srv.Config.ScopeDelimiter, DefaultScopeDelimiter)

	for _, gt := range []GrantType{GrantTypeAuthorizationCode, GrantTypeClientCredentials, GrantTypeRefreshToken} {
		if _, ok := env.srv.grants[gt]; !ok {
			t.Errorf("grant %s not registered", gt)
		}
	}
	if _, ok := env.srv.grants[GrantTypePassword]; ok {
		t.Error("password grant registered without being enabled")
	}
	if _, ok := env.srv.responders[ResponseTypeCode]; !ok {
		t.Error("code response type not registered")
	}
	if _, ok := env.srv.responders[ResponseTypeToken]; ok {
		t.Error("token response type registered without being enabled")
	}
}

// ===== Dispatch Tests =====

func TestRespondToAccessTokenRequest_Dispatch(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		form     url.Values
		wantCode string
	}{
		{"missing grant_type", url.Values{}, ErrorCodeInvalidRequest},
		{"empty grant_type", url.Values{"grant_type": {""}}, ErrorCodeInvalidRequest},
		{"repeated grant_type", url.Values{"grant_type": {"client_credentials", "client_credentials"}}, ErrorCodeInvalidRequest},
		{"unknown grant_type", url.Values{"grant_type": {"urn:unknown"}}, ErrorCodeUnsupportedGrantType},
		{"disabled grant_type", url.Values{"grant_type": {"password"}}, ErrorCodeUnsupportedGrantType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(tt.form))
			assertOAuthError(t, err, tt.wantCode)
		})
	}
}

type staticGrant struct{}

func (staticGrant) Identifier() GrantType { return "urn:example:static" }

func (staticGrant) RespondToAccessTokenRequest(context.Context, *Request) (*TokenResponse, error) {
	return &TokenResponse{AccessToken: "static", TokenType: TokenType}, nil
}

func TestRegisterGrant_Custom(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.RegisterGrant(staticGrant{})

	resp, err := env.srv.RespondToAccessTokenRequest(context.Background(),
		NewRequest(url.Values{"grant_type": {"urn:example:static"}}))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.AccessToken, "static")
}
