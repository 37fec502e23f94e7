package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security-relevant grant events to a structured logger.
// Owner identifiers are hashed before they reach the log.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event is one audit record
type Event struct {
	Type      string
	GrantType string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs event with the owner ID hashed. A nil Auditor is a no-op.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"timestamp", event.Timestamp,
	}
	if event.GrantType != "" {
		attrs = append(attrs, "grant_type", event.GrantType)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.Info("security_audit", attrs...)
}

// LogTokenIssued logs a successful grant
func (a *Auditor) LogTokenIssued(grantType, userID, clientID, ipAddress, scope string, withRefresh bool) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		GrantType: grantType,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope":         scope,
			"refresh_token": withRefresh,
		},
	})
}

// LogTokenRefreshed logs a refresh token rotation
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string, rotation int) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		GrantType: "refresh_token",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotation": rotation,
		},
	})
}

// LogTokenRevoked logs an explicit revocation
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogReuseDetected logs replay of a consumed authorization code or refresh token
// together with how many tokens were revoked in response.
func (a *Auditor) LogReuseDetected(eventType, userID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      eventType,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": revoked,
			"severity":       "critical",
		},
	})
}

// LogScopeEscalation logs a refresh that asked for scopes outside the original grant
func (a *Auditor) LogScopeEscalation(userID, clientID, ipAddress, requested, granted string) {
	a.LogEvent(Event{
		Type:      EventScopeEscalationAttempt,
		GrantType: "refresh_token",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"requested_scope": requested,
			"granted_scope":   granted,
		},
	})
}

// LogAuthFailure logs a failed client or owner authentication
func (a *Auditor) LogAuthFailure(eventType, userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      eventType,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs rate limit violations
func (a *Auditor) LogRateLimitExceeded(ipAddress, clientID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// hashForLogging returns the first 16 hex characters of the SHA-256 of value.
func hashForLogging(value string) string {
	if value == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
