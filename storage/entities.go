package storage

import (
	"fmt"
	"slices"
	"time"
)

// Client types
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// Session owner types used by the legacy authorization flow
const (
	OwnerTypeUser   = "user"
	OwnerTypeClient = "client"
)

// Session stages of the legacy authorization flow
const (
	SessionStagePending = "pending"
	SessionStageGranted = "granted"
)

// Client represents a registered OAuth client
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash, empty for public clients
	ClientType       string // "public" or "confidential"
	RedirectURIs     []string
	GrantTypes       []string // empty means the server-wide defaults apply
	Scopes           []string // scopes the client may request
	DefaultScopes    []string // granted when the request carries no scope
	ClientName       string
	CreatedAt        time.Time
}

// IsConfidential reports whether the client is expected to authenticate with a secret.
func (c *Client) IsConfidential() bool {
	return c.ClientType != ClientTypePublic
}

// AllowsGrantType reports whether the client is enabled for grantType.
// A client without an explicit list accepts every grant the server enables.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	return slices.Contains(c.GrantTypes, grantType)
}

// AllowsScope reports whether the client may be granted scope.
func (c *Client) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Clone returns a deep copy of c.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.Scopes = slices.Clone(c.Scopes)
	out.DefaultScopes = slices.Clone(c.DefaultScopes)
	return &out
}

// Scope is a named permission a client may request
type Scope struct {
	ID          string
	Description string
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// Clone returns a deep copy of c.
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

// Validate checks the invariants every stored code must satisfy.
func (c *AuthorizationCode) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("authorization code is empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("authorization code has no client")
	}
	return validateLifetime(c.CreatedAt, c.ExpiresAt)
}

// AccessToken is the server-side record of an issued access token.
// ID is carried as the "jti" claim of the signed token.
type AccessToken struct {
	ID        string
	ClientID  string
	UserID    string // the client ID for client_credentials tokens
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Clone returns a deep copy of t.
func (t *AccessToken) Clone() *AccessToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	return &out
}

// Validate checks the invariants every stored access token must satisfy.
func (t *AccessToken) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("access token has no identifier")
	}
	if t.ClientID == "" {
		return fmt.Errorf("access token has no client")
	}
	return validateLifetime(t.IssuedAt, t.ExpiresAt)
}

// RefreshToken is the server-side record of an opaque refresh token.
// Rotation counts how many times the grant behind it has been refreshed.
type RefreshToken struct {
	ID            string
	AccessTokenID string
	ClientID      string
	UserID        string
	Scopes        []string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Revoked       bool
	Rotation      int
}

// Clone returns a deep copy of t.
func (t *RefreshToken) Clone() *RefreshToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	return &out
}

// Validate checks the invariants every stored refresh token must satisfy.
func (t *RefreshToken) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("refresh token has no identifier")
	}
	if t.AccessTokenID == "" {
		return fmt.Errorf("refresh token does not reference an access token")
	}
	if t.ClientID == "" {
		return fmt.Errorf("refresh token has no client")
	}
	return validateLifetime(t.IssuedAt, t.ExpiresAt)
}

// Session binds a client and resource owner to an in-flight authorization
// in the legacy flow. It is pending while AuthCode is outstanding and granted
// once an access token has been bound to it.
type Session struct {
	ID            string
	ClientID      string
	OwnerType     string
	OwnerID       string
	RedirectURI   string
	Stage         string
	AuthCode      string
	AccessTokenID string
	Scopes        []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Validate checks the invariants every stored session must satisfy.
func (s *Session) Validate() error {
	if s.ID == "" || s.ClientID == "" || s.OwnerID == "" {
		return fmt.Errorf("session is missing identifiers")
	}
	if s.OwnerType != OwnerTypeUser && s.OwnerType != OwnerTypeClient {
		return fmt.Errorf("unknown session owner type %q", s.OwnerType)
	}
	return validateLifetime(s.CreatedAt, s.ExpiresAt)
}

func validateLifetime(issued, expires time.Time) error {
	if !expires.After(issued) {
		return fmt.Errorf("expiry must be after issuance")
	}
	return nil
}
