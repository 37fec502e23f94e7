package server

import (
	"context"
	"net/url"
	"testing"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
	"github.com/giantswarm/oauth2-grants/storage"
)

func revokeForm(tok, hint string) url.Values {
	f := url.Values{"token": {tok}}
	if hint != "" {
		f.Set("token_type_hint", hint)
	}
	return f
}

// issueClientToken returns a signed access token for the test client
func issueClientToken(t *testing.T, env *testEnv) string {
	t.Helper()
	resp, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"read"},
	}))
	testutil.AssertNoError(t, err)
	return resp.AccessToken
}

// ===== RevokeToken Tests =====

func TestRevokeToken_RefreshToken(t *testing.T) {
	for _, hint := range []string{"", TokenTypeHintRefreshToken, TokenTypeHintAccessToken, "unknown_hint"} {
		t.Run("hint="+hint, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			access, refresh := env.seedTokenPair(t, "read")

			err := env.srv.RevokeToken(ctx, tokenRequest(revokeForm(refresh.ID, hint)))
			testutil.AssertNoError(t, err)

			storedRefresh, err := env.store.GetRefreshToken(ctx, refresh.ID)
			testutil.AssertNoError(t, err)
			if !storedRefresh.Revoked {
				t.Error("refresh token not revoked")
			}
			storedAccess, err := env.store.GetAccessToken(ctx, access.ID)
			testutil.AssertNoError(t, err)
			if !storedAccess.Revoked {
				t.Error("paired access token not revoked")
			}
		})
	}
}

func TestRevokeToken_AccessToken(t *testing.T) {
	for _, hint := range []string{"", TokenTypeHintAccessToken, TokenTypeHintRefreshToken} {
		t.Run("hint="+hint, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			raw := issueClientToken(t, env)

			err := env.srv.RevokeToken(ctx, tokenRequest(revokeForm(raw, hint)))
			testutil.AssertNoError(t, err)

			stored, err := env.store.GetAccessToken(ctx, env.decode(t, raw).ID)
			testutil.AssertNoError(t, err)
			if !stored.Revoked {
				t.Error("access token not revoked")
			}
		})
	}
}

func TestRevokeToken_AlreadyRevokedIsSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := env.seedTokenPair(t, "read")

	testutil.AssertNoError(t, env.srv.RevokeToken(ctx, tokenRequest(revokeForm(refresh.ID, ""))))
	testutil.AssertNoError(t, env.srv.RevokeToken(ctx, tokenRequest(revokeForm(refresh.ID, ""))))
}

func TestRevokeToken_UnknownTokenIsSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, raw := range []string{"does-not-exist", "not.a.jwt"} {
		if err := env.srv.RevokeToken(context.Background(), tokenRequest(revokeForm(raw, ""))); err != nil {
			t.Errorf("RevokeToken(%q) error = %v, want nil", raw, err)
		}
	}
}

func TestRevokeToken_OtherClientsTokenUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	access, refresh := env.seedTokenPair(t, "read")
	raw := issueClientToken(t, env)

	for _, tok := range []string{refresh.ID, raw} {
		req := NewRequest(revokeForm(tok, "")).WithBasicAuth(testOtherClientID, testOtherClientSecret)
		if err := env.srv.RevokeToken(ctx, req); err != nil {
			t.Errorf("RevokeToken() error = %v, want nil", err)
		}
	}

	storedRefresh, err := env.store.GetRefreshToken(ctx, refresh.ID)
	testutil.AssertNoError(t, err)
	storedAccess, err := env.store.GetAccessToken(ctx, access.ID)
	testutil.AssertNoError(t, err)
	issued, err := env.store.GetAccessToken(ctx, env.decode(t, raw).ID)
	testutil.AssertNoError(t, err)
	if storedRefresh.Revoked || storedAccess.Revoked || issued.Revoked {
		t.Error("another client revoked the test client's tokens")
	}
}

func TestRevokeToken_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		wantCode string
	}{
		{"missing token", tokenRequest(url.Values{}), ErrorCodeInvalidRequest},
		{"repeated token", tokenRequest(url.Values{"token": {"a", "b"}}), ErrorCodeInvalidRequest},
		{"no client", NewRequest(revokeForm("x", "")), ErrorCodeInvalidClient},
		{"wrong secret", NewRequest(revokeForm("x", "")).WithBasicAuth(testutil.TestClientID, "wrong"), ErrorCodeInvalidClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			assertOAuthError(t, env.srv.RevokeToken(context.Background(), tt.req), tt.wantCode)
		})
	}
}

func TestRevokeToken_ClientWithoutRefreshGrant(t *testing.T) {
	env := newTestEnv(t, nil)
	env.updateClient(t, func(c *storage.Client) { c.GrantTypes = []string{string(GrantTypeClientCredentials)} })
	_, refresh := env.seedTokenPair(t, "read")

	// revocation is not a grant; any authenticated client may revoke its own tokens
	testutil.AssertNoError(t, env.srv.RevokeToken(context.Background(), tokenRequest(revokeForm(refresh.ID, ""))))
}
