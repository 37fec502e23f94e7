// Package upstream provides an Authenticator that delegates the password
// check to another OAuth2 authorization server.
//
// The upstream token endpoint is called with the resource owner password
// credentials grant. On success the owner ID is read from the upstream
// userinfo endpoint, or falls back to the username when none is configured.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-grants/providers"
)

// maxUserInfoSize bounds the userinfo body we are willing to read
const maxUserInfoSize = 1 << 20

// Config configures the upstream server
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL is the upstream token endpoint (required)
	TokenURL string

	// UserInfoURL is optional; its "sub" (or "id") member becomes the owner ID
	UserInfoURL string

	// Scopes requested from upstream
	Scopes []string

	// HTTPClient is optional; defaults to a client with a 10s timeout
	HTTPClient *http.Client
}

// Authenticator implements providers.Authenticator against an upstream server.
type Authenticator struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var _ providers.Authenticator = (*Authenticator)(nil)

// New creates an upstream Authenticator
func New(cfg *Config) (*Authenticator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  httpClient,
	}, nil
}

// Name returns "upstream".
func (a *Authenticator) Name() string { return "upstream" }

// Authenticate implements providers.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*providers.Identity, error) {
	if username == "" || password == "" {
		return nil, providers.ErrInvalidCredentials
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := a.config.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && isCredentialRejection(re) {
			return nil, providers.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("upstream token request failed: %w", err)
	}

	if a.userInfoURL == "" {
		return &providers.Identity{ID: username, Username: username}, nil
	}

	id, err := a.fetchSubject(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &providers.Identity{ID: id, Username: username}, nil
}

// isCredentialRejection reports whether upstream refused the credentials
// rather than failing.
func isCredentialRejection(re *oauth2.RetrieveError) bool {
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_request" {
		return true
	}
	if re.Response == nil {
		return false
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}

type userInfo struct {
	Sub string          `json:"sub"`
	ID  json.RawMessage `json:"id"`
}

func (a *Authenticator) fetchSubject(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build userinfo request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoSize)).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode userinfo: %w", err)
	}

	if info.Sub != "" {
		return info.Sub, nil
	}
	// GitHub-style numeric or string id
	if len(info.ID) > 0 && string(info.ID) != "null" {
		var s string
		if err := json.Unmarshal(info.ID, &s); err == nil && s != "" {
			return s, nil
		}
		return string(info.ID), nil
	}
	return "", fmt.Errorf("userinfo response has no subject")
}
