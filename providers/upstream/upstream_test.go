package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/giantswarm/oauth2-grants/internal/testutil"
	"github.com/giantswarm/oauth2-grants/providers"
)

// newUpstream starts a fake authorization server accepting alice/secret.
func newUpstream(t *testing.T, userinfo http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.PostForm.Get("grant_type") != "password":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		case r.PostForm.Get("username") == "boom":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "server_error"})
		case r.PostForm.Get("username") == "alice" && r.PostForm.Get("password") == "secret":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "upstream-at",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		}
	})
	if userinfo != nil {
		mux.HandleFunc("/userinfo", userinfo)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config", cfg: nil},
		{name: "missing token URL", cfg: &Config{ClientID: "c"}},
		{name: "missing client ID", cfg: &Config{TokenURL: "https://up.example/token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAuthenticate_WithoutUserInfo(t *testing.T) {
	srv := newUpstream(t, nil)
	auth, err := New(&Config{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/token", HTTPClient: srv.Client()})
	testutil.AssertNoError(t, err)

	id, err := auth.Authenticate(context.Background(), "alice", "secret")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, id.ID, "alice")

	if _, err := auth.Authenticate(context.Background(), "alice", "wrong"); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := auth.Authenticate(context.Background(), "", ""); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("empty credentials error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticate_UpstreamFailureIsNotCredentialError(t *testing.T) {
	srv := newUpstream(t, nil)
	auth, err := New(&Config{ClientID: "c", TokenURL: srv.URL + "/token", HTTPClient: srv.Client()})
	testutil.AssertNoError(t, err)

	_, err = auth.Authenticate(context.Background(), "boom", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, providers.ErrInvalidCredentials) {
		t.Error("a 500 from upstream must not look like bad credentials")
	}
}

func TestAuthenticate_UserInfoSubject(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantID  string
		wantErr bool
	}{
		{name: "sub claim", body: `{"sub":"oidc-42"}`, status: http.StatusOK, wantID: "oidc-42"},
		{name: "numeric id", body: `{"id":1234}`, status: http.StatusOK, wantID: "1234"},
		{name: "string id", body: `{"id":"gh-7"}`, status: http.StatusOK, wantID: "gh-7"},
		{name: "no subject", body: `{"name":"Alice"}`, status: http.StatusOK, wantErr: true},
		{name: "error status", body: `{}`, status: http.StatusUnauthorized, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer upstream-at" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			auth, err := New(&Config{
				ClientID:    "c",
				TokenURL:    srv.URL + "/token",
				UserInfoURL: srv.URL + "/userinfo",
				HTTPClient:  srv.Client(),
			})
			testutil.AssertNoError(t, err)

			id, err := auth.Authenticate(context.Background(), "alice", "secret")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, id.ID, tt.wantID)
		})
	}
}
