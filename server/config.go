package server

import (
	"log/slog"
	"slices"
	"time"
)

// Config holds grant engine configuration. It is passed to New and never
// read from global state.
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// GrantTypes lists the token endpoint grants that are enabled.
	// Default: authorization_code, client_credentials, refresh_token
	GrantTypes []GrantType

	// ResponseTypes lists the authorization endpoint response types.
	// Default: ["code"]. Add "token" to enable the implicit grant.
	ResponseTypes []string

	// ScopeDelimiter separates scopes in the scope parameter
	// Default: " "
	ScopeDelimiter string

	// DefaultScopes are granted when a request carries no scope and the client
	// has no DefaultScopes of its own
	DefaultScopes []string

	// RequirePKCEForPublicClients rejects code requests from public clients
	// without a code_challenge.
	// Default: true
	RequirePKCEForPublicClients bool

	// AllowPKCEPlainMethod accepts code_challenge_method=plain
	// WARNING: plain offers no protection against code interception
	// Default: false
	AllowPKCEPlainMethod bool

	// ClockSkewGracePeriod is added to expiry checks
	ClockSkewGracePeriod int64 // seconds, default: 5

	// DisablePKCEDefaults keeps RequirePKCEForPublicClients exactly as given.
	// Without it a zero Config is upgraded to the secure defaults.
	DisablePKCEDefaults bool
}

// Default values
const (
	DefaultAuthorizationCodeTTL = 600
	DefaultAccessTokenTTL       = 3600
	DefaultRefreshTokenTTL      = 30 * 24 * 3600
	DefaultScopeDelimiter       = " "
	DefaultClockSkewGracePeriod = 5
)

// applySecureDefaults fills zero values and logs warnings for weakened settings.
// It returns a copy; the caller's Config is not modified.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	c := *config
	c.GrantTypes = slices.Clone(config.GrantTypes)
	c.ResponseTypes = slices.Clone(config.ResponseTypes)
	c.DefaultScopes = slices.Clone(config.DefaultScopes)

	applyTimeDefaults(&c)

	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []GrantType{GrantTypeAuthorizationCode, GrantTypeClientCredentials, GrantTypeRefreshToken}
	}
	if len(c.ResponseTypes) == 0 {
		c.ResponseTypes = []string{ResponseTypeCode}
	}
	if c.ScopeDelimiter == "" {
		c.ScopeDelimiter = DefaultScopeDelimiter
	}
	if !c.DisablePKCEDefaults {
		c.RequirePKCEForPublicClients = true
	}

	logSecurityWarnings(&c, logger)
	return &c
}

func applyTimeDefaults(c *Config) {
	if c.AuthorizationCodeTTL <= 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.ClockSkewGracePeriod <= 0 {
		c.ClockSkewGracePeriod = DefaultClockSkewGracePeriod
	}
}

func logSecurityWarnings(c *Config, logger *slog.Logger) {
	if !c.RequirePKCEForPublicClients {
		logger.Warn("SECURITY WARNING: PKCE is not required for public clients",
			"risk", "Authorization code interception attacks",
			"recommendation", "Leave DisablePKCEDefaults unset")
	}
	if c.AllowPKCEPlainMethod {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlainMethod=false to require S256")
	}
	if slices.Contains(c.ResponseTypes, ResponseTypeToken) {
		logger.Warn("SECURITY NOTICE: Implicit grant is enabled",
			"risk", "Access tokens exposed in browser history and referrers",
			"recommendation", "Prefer the authorization code grant with PKCE")
	}
	if slices.Contains(c.GrantTypes, GrantTypePassword) {
		logger.Warn("SECURITY NOTICE: Resource owner password grant is enabled",
			"risk", "Clients handle user passwords directly",
			"recommendation", "Only enable for first-party clients")
	}
}

func (c *Config) authCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) clockSkew() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

// grantEnabled reports whether gt is in GrantTypes
func (c *Config) grantEnabled(gt GrantType) bool {
	return slices.Contains(c.GrantTypes, gt)
}

// responseTypeEnabled reports whether rt is in ResponseTypes
func (c *Config) responseTypeEnabled(rt string) bool {
	return slices.Contains(c.ResponseTypes, rt)
}
