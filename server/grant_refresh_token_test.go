package server

import (
	"context"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
)

func refreshForm(refreshToken string) url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
}

// ===== Refresh Token Grant Tests =====

func TestRefreshToken_Rotation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	access, refresh := env.seedTokenPair(t, "read", "write")

	resp, err := env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(refreshForm(refresh.ID)))
	testutil.AssertNoError(t, err)

	if resp.RefreshToken == "" || resp.RefreshToken == refresh.ID {
		t.Fatalf("RefreshToken = %q, want a new token", resp.RefreshToken)
	}

	old, err := env.store.GetRefreshToken(ctx, refresh.ID)
	testutil.AssertNoError(t, err)
	if !old.Revoked {
		t.Error("presented refresh token was not revoked")
	}
	oldAccess, err := env.store.GetAccessToken(ctx, access.ID)
	testutil.AssertNoError(t, err)
	if !oldAccess.Revoked {
		t.Error("paired access token was not revoked")
	}

	rotated, err := env.store.GetRefreshToken(ctx, resp.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rotated.Rotation, 1)
	testutil.AssertEqual(t, rotated.UserID, testutil.TestUserID)

	claims := env.decode(t, resp.AccessToken)
	testutil.AssertEqual(t, rotated.AccessTokenID, claims.ID)
	if !slices.Equal(claims.Scopes, []string{"read", "write"}) {
		t.Errorf("Scopes = %v, want [read write]", claims.Scopes)
	}
}

func TestRefreshToken_RotationCountIncrements(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := env.seedTokenPair(t, "read")

	current := refresh.ID
	for i := 1; i <= 3; i++ {
		resp, err := env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(refreshForm(current)))
		testutil.AssertNoError(t, err)
		current = resp.RefreshToken

		stored, err := env.store.GetRefreshToken(ctx, current)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, stored.Rotation, i)
	}
}

func TestRefreshToken_ReuseRevokesFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := env.seedTokenPair(t, "read")

	first, err := env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(refreshForm(refresh.ID)))
	testutil.AssertNoError(t, err)

	_, err = env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(refreshForm(refresh.ID)))
	assertOAuthError(t, err, ErrorCodeInvalidGrant)

	rotated, err := env.store.GetRefreshToken(ctx, first.RefreshToken)
	testutil.AssertNoError(t, err)
	if !rotated.Revoked {
		t.Error("refresh token issued by rotation survived reuse detection")
	}
	issued, err := env.store.GetAccessToken(ctx, env.decode(t, first.AccessToken).ID)
	testutil.AssertNoError(t, err)
	if !issued.Revoked {
		t.Error("access token issued by rotation survived reuse detection")
	}

	// the rotated token is now unusable too
	_, err = env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(refreshForm(first.RefreshToken)))
	assertOAuthError(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshToken_ConcurrentRotation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, refresh := env.seedTokenPair(t, "read")

	const workers = 20
	resps, errs := concurrentTokenRequests(env, workers, refreshForm(refresh.ID))

	if len(resps) != 1 {
		t.Fatalf("successful rotations = %d, want exactly 1", len(resps))
	}
	testutil.AssertEqual(t, len(errs), workers-1)
	for _, err := range errs {
		assertOAuthError(t, err, ErrorCodeInvalidGrant)
	}

	old, err := env.store.GetRefreshToken(context.Background(), refresh.ID)
	testutil.AssertNoError(t, err)
	if !old.Revoked {
		t.Error("presented refresh token was not revoked")
	}
}

func TestRefreshToken_ScopeNarrowing(t *testing.T) {
	env := newTestEnv(t, nil)
	_, refresh := env.seedTokenPair(t, "read", "write")

	form := refreshForm(refresh.ID)
	form.Set("scope", "read")
	resp, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(form))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, resp.Scope, "read")
	if !slices.Equal(env.decode(t, resp.AccessToken).Scopes, []string{"read"}) {
		t.Error("access token does not carry the narrowed scope")
	}
}

func TestRefreshToken_ScopeWideningRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := env.seedTokenPair(t, "read")

	form := refreshForm(refresh.ID)
	form.Set("scope", "read write")
	_, err := env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(form))
	assertOAuthError(t, err, ErrorCodeInvalidScope)

	stored, err := env.store.GetRefreshToken(ctx, refresh.ID)
	testutil.AssertNoError(t, err)
	if stored.Revoked {
		t.Error("rejected refresh must not revoke the token")
	}
}

func TestRefreshToken_OtherClientCannotUseOrRevoke(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := env.seedTokenPair(t, "read")

	req := NewRequest(refreshForm(refresh.ID)).WithBasicAuth(testOtherClientID, testOtherClientSecret)
	_, err := env.srv.RespondToAccessTokenRequest(ctx, req)
	assertOAuthError(t, err, ErrorCodeInvalidGrant)

	stored, err := env.store.GetRefreshToken(ctx, refresh.ID)
	testutil.AssertNoError(t, err)
	if stored.Revoked {
		t.Error("another client's request revoked the token")
	}

	// revoked and presented by the wrong client: still no family revocation
	_, err = env.srv.RespondToAccessTokenRequest(ctx, tokenRequest(refreshForm(refresh.ID)))
	testutil.AssertNoError(t, err)
	_, err = env.srv.RespondToAccessTokenRequest(ctx,
		NewRequest(refreshForm(refresh.ID)).WithBasicAuth(testOtherClientID, testOtherClientSecret))
	assertOAuthError(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshToken_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		form     func(refreshID string) url.Values
		advance  time.Duration
		wantCode string
	}{
		{
			name:     "missing refresh_token",
			form:     func(string) url.Values { return url.Values{"grant_type": {"refresh_token"}} },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown refresh_token",
			form:     func(string) url.Values { return refreshForm("does-not-exist") },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "expired",
			form:     refreshForm,
			advance:  31 * 24 * time.Hour,
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "empty scope",
			form: func(id string) url.Values {
				f := refreshForm(id)
				f.Set("scope", " ")
				return f
			},
			wantCode: ErrorCodeInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			_, refresh := env.seedTokenPair(t, "read")
			env.clock.Advance(tt.advance)

			_, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(tt.form(refresh.ID)))
			assertOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestRefreshToken_WithinClockSkew(t *testing.T) {
	env := newTestEnv(t, nil)
	_, refresh := env.seedTokenPair(t, "read")

	env.clock.Advance(refresh.ExpiresAt.Sub(env.clock.Now()) + 2*time.Second)

	_, err := env.srv.RespondToAccessTokenRequest(context.Background(), tokenRequest(refreshForm(refresh.ID)))
	testutil.AssertNoError(t, err)
}
