package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
	"github.com/giantswarm/oauth2-grants/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New()
	t.Cleanup(store.Stop)
	return store
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_SaveClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient(t, "read")
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientID != client.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, client.ClientID)
	}
}

func TestStore_SaveClient_Invalid(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveClient(context.Background(), nil); err == nil {
		t.Error("SaveClient(nil) should return error")
	}
	if err := store.SaveClient(context.Background(), &storage.Client{}); err == nil {
		t.Error("SaveClient() with empty ID should return error")
	}
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetClient(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_ClientIsCopied(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient(t, "read")
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	client.Scopes[0] = "admin"
	client.DefaultScopes = []string{"admin"}

	got, err := store.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.AllowsScope("admin") || len(got.DefaultScopes) != 0 {
		t.Errorf("caller changes reached the store: Scopes = %v, DefaultScopes = %v", got.Scopes, got.DefaultScopes)
	}

	got.Scopes[0] = "admin"
	got.RedirectURIs = nil
	again, _ := store.GetClient(ctx, client.ClientID)
	if again.AllowsScope("admin") || len(again.RedirectURIs) == 0 {
		t.Error("changes to a returned client reached the store")
	}
}

func TestStore_ValidateClientSecret(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.SaveClient(ctx, testutil.GenerateTestClient(t))
	_ = store.SaveClient(ctx, testutil.GenerateTestPublicClient("public-client"))

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"valid secret", testutil.TestClientID, testutil.TestClientSecret, false},
		{"wrong secret", testutil.TestClientID, "wrong", true},
		{"empty secret", testutil.TestClientID, "", true},
		{"unknown client", "nonexistent", testutil.TestClientSecret, true},
		{"public client has no secret", "public-client", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, storage.ErrInvalidClientSecret) {
				t.Errorf("ValidateClientSecret() error = %v, want ErrInvalidClientSecret", err)
			}
		})
	}
}

func TestStore_GetScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.SaveScope(ctx, &storage.Scope{ID: "read", Description: "Read access"})

	got, err := store.GetScope(ctx, "read")
	if err != nil {
		t.Fatalf("GetScope() error = %v", err)
	}
	if got.Description != "Read access" {
		t.Errorf("Description = %q, want %q", got.Description, "Read access")
	}

	if _, err := store.GetScope(ctx, "admin"); !errors.Is(err, storage.ErrScopeNotFound) {
		t.Errorf("GetScope(admin) error = %v, want ErrScopeNotFound", err)
	}
}

// ============================================================
// AuthorizationCodeStore Tests
// ============================================================

func TestStore_AtomicCheckAndMarkAuthCodeUsed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode("read")
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	got, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if err != nil {
		t.Fatalf("first AtomicCheckAndMarkAuthCodeUsed() error = %v", err)
	}
	if got.Used {
		t.Error("first caller should receive the record as it was before marking")
	}

	reused, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Fatalf("second call error = %v, want ErrAuthorizationCodeUsed", err)
	}
	if reused == nil || reused.UserID != testutil.TestUserID {
		t.Error("reuse must return the stored code for revocation")
	}
}

func TestStore_AtomicCheckAndMarkAuthCodeUsed_NotFound(t *testing.T) {
	store := newTestStore(t)

	got, err := store.AtomicCheckAndMarkAuthCodeUsed(context.Background(), "missing")
	if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("error = %v, want ErrAuthorizationCodeNotFound", err)
	}
	if got != nil {
		t.Error("no record must be returned for unknown codes")
	}
}

func TestStore_AtomicCheckAndMarkAuthCodeUsed_Expired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	code.CreatedAt = time.Now().Add(-20 * time.Minute)
	code.ExpiresAt = time.Now().Add(-10 * time.Minute)
	_ = store.SaveAuthorizationCode(ctx, code)

	_, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestStore_AtomicCheckAndMarkAuthCodeUsed_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	_ = store.SaveAuthorizationCode(ctx, code)

	const workers = 20
	var wg sync.WaitGroup
	var successes atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("successful exchanges = %d, want exactly 1", got)
	}
}

func TestStore_AuthorizationCodeScopesAreCopied(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode("read")
	_ = store.SaveAuthorizationCode(ctx, code)
	code.Scopes[0] = "admin"

	marked, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if err != nil {
		t.Fatalf("AtomicCheckAndMarkAuthCodeUsed() error = %v", err)
	}
	marked.Scopes[0] = "admin"

	got, _ := store.GetAuthorizationCode(ctx, code.Code)
	if got.Scopes[0] != "read" {
		t.Errorf("Scopes = %v, want [read]", got.Scopes)
	}
}

func TestStore_SaveAuthorizationCode_InvalidLifetime(t *testing.T) {
	store := newTestStore(t)

	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = code.CreatedAt

	if err := store.SaveAuthorizationCode(context.Background(), code); err == nil {
		t.Error("SaveAuthorizationCode() should reject expiry not after issuance")
	}
}

// ============================================================
// Token Tests
// ============================================================

func TestStore_AccessTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	access := testutil.GenerateTestAccessToken("read")
	if err := store.SaveAccessToken(ctx, access); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	active, err := store.FindActiveAccessToken(ctx, testutil.TestUserID, testutil.TestClientID)
	if err != nil {
		t.Fatalf("FindActiveAccessToken() error = %v", err)
	}
	if active.ID != access.ID {
		t.Errorf("active token = %q, want %q", active.ID, access.ID)
	}

	if err := store.RevokeAccessToken(ctx, access.ID); err != nil {
		t.Fatalf("RevokeAccessToken() error = %v", err)
	}

	got, _ := store.GetAccessToken(ctx, access.ID)
	if !got.Revoked {
		t.Error("token should be revoked")
	}
	if _, err := store.FindActiveAccessToken(ctx, testutil.TestUserID, testutil.TestClientID); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("FindActiveAccessToken() after revoke error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_AtomicRevokeRefreshToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	access := testutil.GenerateTestAccessToken("read")
	refresh := testutil.GenerateTestRefreshToken(access)
	if err := store.SaveRefreshToken(ctx, refresh); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	before, err := store.AtomicRevokeRefreshToken(ctx, refresh.ID)
	if err != nil {
		t.Fatalf("AtomicRevokeRefreshToken() error = %v", err)
	}
	if before.Revoked {
		t.Error("first caller should see the token unrevoked")
	}

	again, err := store.AtomicRevokeRefreshToken(ctx, refresh.ID)
	if !errors.Is(err, storage.ErrTokenRevoked) {
		t.Fatalf("second revoke error = %v, want ErrTokenRevoked", err)
	}
	if again.AccessTokenID != access.ID {
		t.Error("reuse must return the stored token")
	}
}

func TestStore_SaveRefreshToken_RequiresAccessToken(t *testing.T) {
	store := newTestStore(t)

	refresh := testutil.GenerateTestRefreshToken(testutil.GenerateTestAccessToken())
	refresh.AccessTokenID = ""

	if err := store.SaveRefreshToken(context.Background(), refresh); err == nil {
		t.Error("SaveRefreshToken() should reject a token without access token reference")
	}
}

func TestStore_RevokeAllForOwnerClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a1 := testutil.GenerateTestAccessToken("read")
	a2 := testutil.GenerateTestAccessToken("read")
	other := testutil.GenerateTestAccessToken("read")
	other.ClientID = "other-client"

	for _, a := range []*storage.AccessToken{a1, a2, other} {
		_ = store.SaveAccessToken(ctx, a)
	}
	_ = store.SaveRefreshToken(ctx, testutil.GenerateTestRefreshToken(a1))

	n, err := store.RevokeAllForOwnerClient(ctx, testutil.TestUserID, testutil.TestClientID)
	if err != nil {
		t.Fatalf("RevokeAllForOwnerClient() error = %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}

	got, _ := store.GetAccessToken(ctx, other.ID)
	if got.Revoked {
		t.Error("tokens of other clients must not be revoked")
	}

	if _, err := store.RevokeAllForOwnerClient(ctx, "", testutil.TestClientID); err == nil {
		t.Error("empty owner should return error")
	}
}

// ============================================================
// SessionStore Tests
// ============================================================

func TestStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := &storage.Session{
		ID:          "session-1",
		ClientID:    testutil.TestClientID,
		OwnerType:   storage.OwnerTypeUser,
		OwnerID:     testutil.TestUserID,
		RedirectURI: testutil.TestRedirectURI,
		Stage:       storage.SessionStagePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := store.AddSessionScope(ctx, sess.ID, "read"); err != nil {
		t.Fatalf("AddSessionScope() error = %v", err)
	}
	_ = store.AddSessionScope(ctx, sess.ID, "read")

	if err := store.AssociateAuthCode(ctx, sess.ID, "code-1", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("AssociateAuthCode() error = %v", err)
	}

	got, err := store.GetSessionByAuthCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("GetSessionByAuthCode() error = %v", err)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "read" {
		t.Errorf("Scopes = %v, want [read]", got.Scopes)
	}

	if err := store.AssociateAccessToken(ctx, sess.ID, "token-1"); err != nil {
		t.Fatalf("AssociateAccessToken() error = %v", err)
	}
	if _, err := store.GetSessionByAuthCode(ctx, "code-1"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Error("code must be cleared once the session is granted")
	}

	granted, err := store.GetSessionByAccessToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("GetSessionByAccessToken() error = %v", err)
	}
	if granted.Stage != storage.SessionStageGranted {
		t.Errorf("Stage = %q, want %q", granted.Stage, storage.SessionStageGranted)
	}

	if err := store.DeleteSessions(ctx, testutil.TestClientID, storage.OwnerTypeUser, testutil.TestUserID); err != nil {
		t.Fatalf("DeleteSessions() error = %v", err)
	}
	if _, err := store.GetSessionByAccessToken(ctx, "token-1"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Error("session should be deleted")
	}
}

func TestStore_UpdateMissingSession(t *testing.T) {
	store := newTestStore(t)

	err := store.AddSessionScope(context.Background(), "missing", "read")
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("AddSessionScope() error = %v, want ErrSessionNotFound", err)
	}
}

// ============================================================
// Cleanup Tests
// ============================================================

func TestStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := testutil.GenerateTestAccessToken()
	expired.IssuedAt = time.Now().Add(-2 * time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	live := testutil.GenerateTestAccessToken()

	_ = store.SaveAccessToken(ctx, expired)
	_ = store.SaveAccessToken(ctx, live)

	store.cleanup()

	if _, err := store.GetAccessToken(ctx, expired.ID); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("expired token should be cleaned up")
	}
	if _, err := store.GetAccessToken(ctx, live.ID); err != nil {
		t.Error("live token should survive cleanup")
	}
}

func TestStore_StopIsIdempotent(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}

func TestStore_SetLogger(t *testing.T) {
	store := newTestStore(t)
	store.SetLogger(slog.Default())
}

func TestStore_Repositories(t *testing.T) {
	store := newTestStore(t)
	repos := store.Repositories()

	if repos.Clients == nil || repos.Scopes == nil || repos.Codes == nil ||
		repos.AccessTokens == nil || repos.RefreshTokens == nil || repos.Sessions == nil {
		t.Error("every repository slot should be filled")
	}
}
