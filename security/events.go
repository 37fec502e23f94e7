package security

// Audit event types emitted by the grant engine and its HTTP surface.
const (
	// EventTokenIssued is logged when any grant issues an access token
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is exchanged and rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a client revokes a token
	EventTokenRevoked = "token_revoked"

	// EventAuthorizationCodeIssued is logged when the authorization endpoint mints a code
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventRefreshTokenReuseDetected is logged when a revoked refresh token is presented again
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected" //nolint:gosec // event name, not a credential

	// EventScopeEscalationAttempt is logged when a refresh asks for scopes it was never granted
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventClientAuthFailed is logged when client credentials do not match
	EventClientAuthFailed = "client_auth_failed"

	// EventOwnerAuthFailed is logged when the password grant rejects owner credentials
	EventOwnerAuthFailed = "owner_auth_failed"

	// EventPKCEValidationFailed is logged when a code_verifier does not match
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventRedirectURIMismatch is logged when a redirect_uri differs from the registered one
	EventRedirectURIMismatch = "redirect_uri_mismatch"

	// EventRateLimitExceeded is logged when a caller is throttled
	EventRateLimitExceeded = "rate_limit_exceeded"
)
