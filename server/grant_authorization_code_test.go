package server

import (
	"context"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
	"github.com/giantswarm/oauth2-grants/storage"
)

func codeForm(code string) url.Values {
	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testutil.TestRedirectURI},
	}
}

// authorize runs the authorization endpoint for params and returns the
// redirect query.
func authorize(t *testing.T, env *testEnv, params url.Values) url.Values {
	t.Helper()
	ctx := context.Background()

	areq, err := env.srv.ValidateAuthorizationRequest(ctx, params)
	if err != nil {
		t.Fatalf("ValidateAuthorizationRequest() error = %v", err)
	}
	redirect, err := env.srv.CompleteAuthorizationRequest(ctx, areq, testutil.TestUserID, true)
	if err != nil {
		t.Fatalf("CompleteAuthorizationRequest() error = %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("invalid redirect %q: %v", redirect, err)
	}
	return u.Query()
}

// ===== Authorization Code Grant Tests =====

func TestAuthorizationCode_FullFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	query := authorize(t, env, url.Values{
		"client_id":     {testutil.TestClientID},
		"redirect_uri":  {testutil.TestRedirectURI},
		"response_type": {"code"},
		"scope":         {"read write"},
		"state":         {"xyz"},
	})
	testutil.AssertEqual(t, query.Get("state"), "xyz")
	code := query.Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}

	resp, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(codeForm(code)))
	testutil.AssertNoError(t, err)

	if resp.RefreshToken == "" {
		t.Error("expected a refresh token")
	}
	testutil.AssertEqual(t, resp.Scope, "read write")
	claims := env.decode(t, resp.AccessToken)
	testutil.AssertEqual(t, claims.Subject, testutil.TestUserID)
	if !slices.Equal(claims.Scopes, []string{"read", "write"}) {
		t.Errorf("Scopes = %v, want [read write]", claims.Scopes)
	}
}

func TestAuthorizationCode_NoRefreshWhenClientNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.updateClient(t, func(c *storage.Client) { c.GrantTypes = []string{string(GrantTypeAuthorizationCode)} })
	code := env.seedCode(t, nil)

	resp, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(codeForm(code.Code)))
	testutil.AssertNoError(t, err)
	if resp.RefreshToken != "" {
		t.Error("refresh token issued to a client without the refresh_token grant")
	}
}

func TestAuthorizationCode_ReplayRevokesTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.seedCode(t, nil)

	first, err := env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(codeForm(code.Code)))
	testutil.AssertNoError(t, err)

	_, err = env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(codeForm(code.Code)))
	assertOAuthError(t, err, ErrorCodeInvalidGrant)

	access, err := env.store.GetAccessToken(ctx, env.decode(t, first.AccessToken).ID)
	testutil.AssertNoError(t, err)
	if !access.Revoked {
		t.Error("access token from the first exchange survived code replay")
	}
	refresh, err := env.store.GetRefreshToken(ctx, first.RefreshToken)
	testutil.AssertNoError(t, err)
	if !refresh.Revoked {
		t.Error("refresh token from the first exchange survived code replay")
	}
}

func TestAuthorizationCode_ReplayByOtherClientRevokesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.seedCode(t, nil)

	first, err := env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(codeForm(code.Code)))
	testutil.AssertNoError(t, err)

	req := NewRequest(codeForm(code.Code)).WithBasicAuth(testOtherClientID, testOtherClientSecret)
	_, err = env.srv.RespondToAccessTokenRequest(ctx, req)
	assertOAuthError(t, err, ErrorCodeInvalidGrant)

	access, err := env.store.GetAccessToken(ctx, env.decode(t, first.AccessToken).ID)
	testutil.AssertNoError(t, err)
	if access.Revoked {
		t.Error("another client's replay revoked the owner's tokens")
	}
}

func TestAuthorizationCode_Rejected(t *testing.T) {
	const otherRedirect = "https://app.example/other"

	tests := []struct {
		name     string
		mutate   func(*storage.AuthorizationCode)
		form     func(code string) url.Values
		client   func(*storage.Client)
		advance  time.Duration
		wantCode string
	}{
		{
			name:     "missing code",
			form:     func(string) url.Values { return url.Values{"grant_type": {"authorization_code"}} },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown code",
			form:     func(string) url.Values { return codeForm("does-not-exist") },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "code for another client",
			mutate:   func(c *storage.AuthorizationCode) { c.ClientID = testOtherClientID },
			form:     codeForm,
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "unregistered redirect_uri",
			form:     func(c string) url.Values { f := codeForm(c); f.Set("redirect_uri", otherRedirect); return f },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:   "redirect_uri differs from the one authorized",
			mutate: func(c *storage.AuthorizationCode) { c.RedirectURI = otherRedirect },
			form:   codeForm,
			client: func(c *storage.Client) {
				c.RedirectURIs = []string{testutil.TestRedirectURI, otherRedirect}
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "expired",
			form:     codeForm,
			advance:  11 * time.Minute,
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "verifier without challenge",
			form: func(c string) url.Values {
				f := codeForm(c)
				f.Set("code_verifier", testutil.GenerateRandomString(43))
				return f
			},
			wantCode: ErrorCodeInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tt.client != nil {
				env.updateClient(t, tt.client)
			}
			code := env.seedCode(t, tt.mutate)
			env.clock.Advance(tt.advance)

			_, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(tt.form(code.Code)))
			assertOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestAuthorizationCode_ConcurrentExchange(t *testing.T) {
	env := newTestEnv(t, nil)
	code := env.seedCode(t, nil)

	const workers = 20
	resps, errs := concurrentTokenRequests(env, workers, codeForm(code.Code))

	if len(resps) != 1 {
		t.Fatalf("successful exchanges = %d, want exactly 1", len(resps))
	}
	testutil.AssertEqual(t, len(errs), workers-1)
	for _, err := range errs {
		assertOAuthError(t, err, ErrorCodeInvalidGrant)
	}
}

func TestAuthorizationCode_SingleRegisteredRedirectMayBeOmitted(t *testing.T) {
	env := newTestEnv(t, nil)
	code := env.seedCode(t, nil)

	form := codeForm(code.Code)
	form.Del("redirect_uri")
	_, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(form))
	testutil.AssertNoError(t, err)
}

// ===== PKCE Exchange Tests =====

func TestAuthorizationCode_PKCEPublicClient(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()

	tests := []struct {
		name     string
		verifier string
		wantCode string
	}{
		{"valid verifier", verifier, ""},
		{"wrong verifier", testutil.GenerateRandomString(43), ErrorCodeInvalidGrant},
		{"missing verifier", "", ErrorCodeInvalidGrant},
		{"malformed verifier", "short", ErrorCodeInvalidGrant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			query := authorize(t, env, url.Values{
				"client_id":             {testPublicClientID},
				"redirect_uri":          {testutil.TestRedirectURI},
				"response_type":         {"code"},
				"scope":                 {"read"},
				"code_challenge":        {challenge},
				"code_challenge_method": {PKCEMethodS256},
			})

			form := codeForm(query.Get("code"))
			form.Set("client_id", testPublicClientID)
			if tt.verifier != "" {
				form.Set("code_verifier", tt.verifier)
			}
			resp, err := env.srv.RespondToAccessTokenRequest(context.Background(), NewRequest(form))
			if tt.wantCode == "" {
				testutil.AssertNoError(t, err)
				testutil.AssertEqual(t, env.decode(t, resp.AccessToken).ClientID(), testPublicClientID)
				return
			}
			assertOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestAuthorizationCode_PKCEPlain(t *testing.T) {
	env := newTestEnv(t, &Config{AllowPKCEPlainMethod: true})
	verifier := testutil.GenerateRandomString(64)

	query := authorize(t, env, url.Values{
		"client_id":      {testPublicClientID},
		"redirect_uri":   {testutil.TestRedirectURI},
		"response_type":  {"code"},
		"code_challenge": {verifier},
	})

	form := codeForm(query.Get("code"))
	form.Set("client_id", testPublicClientID)
	form.Set("code_verifier", verifier)
	_, err := env.srv.RespondToAccessTokenRequest(context.Background(), NewRequest(form))
	testutil.AssertNoError(t, err)
}
