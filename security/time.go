package security

import "time"

// DefaultClockSkewGracePeriod is how long past its expiry a record is still
// accepted, to absorb clock drift between replicas sharing a store.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired reports whether expiresAt has passed, allowing the default grace period.
// A zero time never expires.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod is IsTokenExpired with an explicit grace period
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	return IsExpiredAt(expiresAt, time.Now(), gracePeriod)
}

// IsExpiredAt reports whether expiresAt plus gracePeriod is before now.
// A zero expiresAt never expires.
func IsExpiredAt(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// ExpiresIn returns whole seconds from now until expiresAt, never negative.
func ExpiresIn(expiresAt, now time.Time) int64 {
	secs := int64(expiresAt.Sub(now) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
