package oauth

import (
	"log/slog"
	"time"
)

// Config holds the HTTP front-end configuration. Grant behavior is
// configured separately on the engine with ServerConfig.
type Config struct {
	// Issuer is the public base URL of the authorization server.
	// An https issuer enables HSTS on every response.
	Issuer string

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Approve decides authorization endpoint requests. Without it the
	// authorization endpoint answers server_error.
	Approve ApprovalFunc

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds per-IP rate limiting for the token and revocation
// endpoints.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	// Default: 2x Rate, at least 1
	Burst int

	// MaxEntries caps the number of tracked IPs.
	// Default: security.DefaultRateLimitMaxEntries
	MaxEntries int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of this server.
	// Default: 1
	TrustedProxyCount int
}

func (c *Config) withDefaults() *Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit.Rate > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = max(int(cfg.RateLimit.Rate*2), 1)
	}
	if cfg.RateLimit.TrustProxy && cfg.RateLimit.TrustedProxyCount <= 0 {
		cfg.RateLimit.TrustedProxyCount = 1
	}
	return &cfg
}
