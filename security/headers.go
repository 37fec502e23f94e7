package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets hardening headers on every endpoint response.
// HSTS is only sent when issuerURL is https.
func SetSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuerURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	SetNoStoreHeaders(w)
}

// SetNoStoreHeaders marks a response as uncacheable (RFC 6749 section 5.1).
func SetNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
