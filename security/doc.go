// Package security holds the cross-cutting protections used around the grant
// engine: audit logging of grant events, keyed rate limiting, client IP
// resolution behind proxies, response hardening headers, request correlation
// IDs and expiry checks with clock-skew grace.
//
// # Audit
//
// Auditor writes one "security_audit" record per event through log/slog.
// Owner IDs are hashed; client IDs and IPs are logged as-is. Replay of a
// consumed authorization code or refresh token is logged at the same level as
// issuance, tagged with severity "critical", so it can be alerted on.
//
// # Rate limiting
//
// RateLimiter keeps one golang.org/x/time/rate token bucket per key with LRU
// eviction once MaxEntries keys are tracked:
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{
//	    RequestsPerSecond: 5,
//	    Burst:             10,
//	}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(ip) {
//	    // 429
//	}
package security
