package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/server"
)

// Endpoint paths registered by Routes
const (
	AuthorizationEndpoint = "/authorize"
	TokenEndpoint         = "/token"
	RevocationEndpoint    = "/revoke"
)

// ApprovalFunc decides an authorization request on behalf of the resource
// owner. It returns the owner ID and whether access was approved. When it
// has written its own response (a login or consent page) it returns
// handled=false and the handler does nothing further.
type ApprovalFunc func(w http.ResponseWriter, r *http.Request, areq *AuthorizationRequest) (ownerID string, approved bool, handled bool)

// Handler serves the OAuth HTTP endpoints over a grant engine
type Handler struct {
	server  *server.Server
	config  *Config
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *security.RateLimiter
	ips     security.IPResolver
}

// NewHandler creates a new HTTP handler. Call Stop when done with it.
func NewHandler(srv *server.Server, config *Config) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("server is required")
	}
	cfg := config.withDefaults()

	h := &Handler{
		server: srv,
		config: cfg,
		logger: cfg.Logger,
		tracer: noop.NewTracerProvider().Tracer("handler"),
		ips: security.IPResolver{
			TrustProxy:        cfg.RateLimit.TrustProxy,
			TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		},
	}
	if cfg.RateLimit.Rate > 0 {
		h.limiter = security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			MaxEntries:        cfg.RateLimit.MaxEntries,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		}, cfg.Logger)
	}
	return h, nil
}

// SetInstrumentation enables tracing on the handler and on its grant engine
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	h.tracer = inst.Tracer("handler")
	h.server.SetInstrumentation(inst)
}

// Routes returns a mux serving the authorization, token and revocation endpoints
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(AuthorizationEndpoint, h.ServeAuthorization)
	mux.HandleFunc(TokenEndpoint, h.ServeToken)
	mux.HandleFunc(RevocationEndpoint, h.ServeRevocation)
	return mux
}

// Stop releases the rate limiter's background sweeper
func (h *Handler) Stop() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// ServeToken handles token endpoint requests (RFC 6749 section 3.2)
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r = security.EnsureRequestID(w, r)

	ctx, span := h.tracer.Start(r.Context(), "http.token")
	defer span.End()

	status := http.StatusOK
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, TokenEndpoint, status)
		h.recordHTTPMetrics(TokenEndpoint, r.Method, status, startTime)
	}()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		status = http.StatusMethodNotAllowed
		h.writeError(w, ErrorCodeInvalidRequest, "Method not allowed", status)
		return
	}

	clientIP := h.ips.ClientIP(r)
	if h.checkIPRateLimit(ctx, w, clientIP) {
		status = http.StatusTooManyRequests
		return
	}

	req, err := server.ParseHTTPRequest(r)
	if err != nil {
		status = h.writeOAuthError(w, r, err)
		instrumentation.RecordError(span, err)
		return
	}
	req.IPAddress = clientIP

	resp, err := h.server.RespondToAccessTokenRequest(ctx, req)
	if err != nil {
		status = h.writeOAuthError(w, r, err)
		instrumentation.RecordError(span, err)
		return
	}

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode token response", "error", err)
	}
	instrumentation.SetSpanSuccess(span)
}

// ServeAuthorization handles authorization endpoint requests (RFC 6749 section 3.1).
// Errors are redirected to the client once its redirect URI has been
// verified; before that they are answered directly.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r = security.EnsureRequestID(w, r)

	ctx, span := h.tracer.Start(r.Context(), "http.authorize")
	defer span.End()

	status := http.StatusFound
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, AuthorizationEndpoint, status)
		h.recordHTTPMetrics(AuthorizationEndpoint, r.Method, status, startTime)
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		status = http.StatusMethodNotAllowed
		h.writeError(w, ErrorCodeInvalidRequest, "Method not allowed", status)
		return
	}
	if err := r.ParseForm(); err != nil {
		status = h.writeOAuthError(w, r, server.ErrInvalidRequest("malformed request"))
		return
	}

	areq, err := h.server.ValidateAuthorizationRequest(ctx, r.Form)
	if areq == nil {
		if err == nil {
			err = server.ErrServerError("authorization request could not be validated")
		}
		status = h.writeOAuthError(w, r, err)
		instrumentation.RecordError(span, err)
		return
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		h.redirect(w, r, h.server.AuthorizationErrorRedirect(areq, err))
		return
	}

	if h.config.Approve == nil {
		h.logger.Error("Authorization request received but no approval function is configured")
		h.redirect(w, r, h.server.AuthorizationErrorRedirect(areq,
			server.ErrServerError("authorization is not available")))
		return
	}

	ownerID, approved, handled := h.config.Approve(w, r, areq)
	if !handled {
		// the approval function wrote its own response
		status = 0
		return
	}

	redirect, err := h.server.CompleteAuthorizationRequest(ctx, areq, ownerID, approved)
	if err != nil {
		h.logger.Error("Failed to complete authorization request", "client_id", areq.Client.ClientID, "error", err)
		instrumentation.RecordError(span, err)
		redirect = h.server.AuthorizationErrorRedirect(areq, err)
	}
	h.redirect(w, r, redirect)
	instrumentation.SetSpanSuccess(span)
}

// ServeRevocation handles token revocation requests (RFC 7009).
// Unknown and foreign tokens still answer 200.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r = security.EnsureRequestID(w, r)

	ctx, span := h.tracer.Start(r.Context(), "http.revoke")
	defer span.End()

	status := http.StatusOK
	defer func() {
		instrumentation.AddHTTPAttributes(span, r.Method, RevocationEndpoint, status)
		h.recordHTTPMetrics(RevocationEndpoint, r.Method, status, startTime)
	}()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		status = http.StatusMethodNotAllowed
		h.writeError(w, ErrorCodeInvalidRequest, "Method not allowed", status)
		return
	}

	clientIP := h.ips.ClientIP(r)
	if h.checkIPRateLimit(ctx, w, clientIP) {
		status = http.StatusTooManyRequests
		return
	}

	req, err := server.ParseHTTPRequest(r)
	if err != nil {
		status = h.writeOAuthError(w, r, err)
		return
	}
	req.IPAddress = clientIP

	if err := h.server.RevokeToken(ctx, req); err != nil {
		status = h.writeOAuthError(w, r, err)
		instrumentation.RecordError(span, err)
		return
	}

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.WriteHeader(status)
	instrumentation.SetSpanSuccess(span)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(ctx context.Context, w http.ResponseWriter, clientIP string) bool {
	if h.limiter == nil || h.limiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	if m := h.server.Metrics(); m != nil {
		m.RecordRateLimitExceeded(ctx, "ip")
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeOAuthError writes err as a JSON error response and returns the status used
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) int {
	oe := server.AsError(err)
	status := oe.Status
	if status == 0 {
		status = http.StatusBadRequest
	}

	// RFC 6749 section 5.2: only a failed Basic authentication answers 401
	if oe.Code == ErrorCodeInvalidClient {
		if _, _, ok := r.BasicAuth(); ok {
			status = http.StatusUnauthorized
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		} else {
			status = http.StatusBadRequest
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}

	h.writeError(w, oe.Code, oe.Description, status)
	return status
}

// writeError writes a JSON error response with security headers
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, location string) {
	security.SetNoStoreHeaders(w)
	http.Redirect(w, r, location, http.StatusFound)
}

// recordHTTPMetrics records HTTP request metrics
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	metrics := h.server.Metrics()
	if metrics == nil || status == 0 {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	metrics.RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
