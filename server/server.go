package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-grants/instrumentation"
	"github.com/giantswarm/oauth2-grants/providers"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
	"github.com/giantswarm/oauth2-grants/token"
)

// TokenCodec signs and verifies access tokens. *token.Codec implements it.
type TokenCodec interface {
	Encode(tok *storage.AccessToken) (string, error)
	Decode(raw string) (*token.Claims, error)
}

// Server is the grant engine. It validates requests, dispatches to the
// enabled grants and assembles responses. All state lives in the repositories.
type Server struct {
	repos         storage.Repositories
	codec         TokenCodec
	authenticator providers.Authenticator
	grants        map[GrantType]Grant
	responders    map[string]AuthorizationResponder

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	metrics *instrumentation.Metrics
	tracer  trace.Tracer

	// now is swapped in tests
	now func() time.Time
}

// New creates a grant engine. authenticator may be nil unless the password
// grant is enabled.
func New(
	repos storage.Repositories,
	codec TokenCodec,
	authenticator providers.Authenticator,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if err := checkRepositories(repos); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if config.grantEnabled(GrantTypePassword) && authenticator == nil {
		return nil, fmt.Errorf("password grant requires an authenticator")
	}

	srv := &Server{
		repos:         repos,
		codec:         codec,
		authenticator: authenticator,
		grants:        make(map[GrantType]Grant),
		responders:    make(map[string]AuthorizationResponder),
		Config:        config,
		Logger:        logger,
		tracer:        noop.NewTracerProvider().Tracer("server"),
		now:           time.Now,
	}

	for _, gt := range config.GrantTypes {
		g, err := srv.builtinGrant(gt)
		if err != nil {
			return nil, err
		}
		srv.RegisterGrant(g)
	}
	for _, rt := range config.ResponseTypes {
		if err := srv.registerResponder(rt); err != nil {
			return nil, err
		}
	}

	return srv, nil
}

func checkRepositories(repos storage.Repositories) error {
	switch {
	case repos.Clients == nil:
		return fmt.Errorf("client store is required")
	case repos.Scopes == nil:
		return fmt.Errorf("scope store is required")
	case repos.Codes == nil:
		return fmt.Errorf("authorization code store is required")
	case repos.AccessTokens == nil:
		return fmt.Errorf("access token store is required")
	case repos.RefreshTokens == nil:
		return fmt.Errorf("refresh token store is required")
	case repos.Revocations == nil:
		return fmt.Errorf("token revocation store is required")
	}
	return nil
}

func (s *Server) builtinGrant(gt GrantType) (Grant, error) {
	switch gt {
	case GrantTypeAuthorizationCode:
		return &authorizationCodeGrant{s: s}, nil
	case GrantTypeClientCredentials:
		return &clientCredentialsGrant{s: s}, nil
	case GrantTypeRefreshToken:
		return &refreshTokenGrant{s: s}, nil
	case GrantTypePassword:
		return &passwordGrant{s: s}, nil
	case GrantTypeImplicit:
		return &implicitGrant{s: s}, nil
	default:
		return nil, fmt.Errorf("unknown grant type %q", gt)
	}
}

func (s *Server) registerResponder(responseType string) error {
	switch responseType {
	case ResponseTypeCode:
		s.responders[responseType] = &authorizationCodeGrant{s: s}
	case ResponseTypeToken:
		s.responders[responseType] = &implicitGrant{s: s}
	default:
		return fmt.Errorf("unknown response type %q", responseType)
	}
	return nil
}

// RegisterGrant adds or replaces a token endpoint grant.
func (s *Server) RegisterGrant(g Grant) {
	s.grants[g.Identifier()] = g
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables metrics and tracing
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("server")
}

// Metrics returns the metrics recorder, or nil when instrumentation is off.
func (s *Server) Metrics() *instrumentation.Metrics {
	return s.metrics
}

// RespondToAccessTokenRequest dispatches req to the grant named by its
// grant_type parameter.
func (s *Server) RespondToAccessTokenRequest(ctx context.Context, req *Request) (*TokenResponse, error) {
	grantType, err := req.Param("grant_type")
	if err != nil {
		return nil, err
	}
	if grantType == "" {
		return nil, ErrInvalidRequest("missing required parameter grant_type")
	}

	ctx, span := s.tracer.Start(ctx, "oauth.token")
	defer span.End()

	ctx = withClientIP(ctx, req.IPAddress)

	grant, ok := s.grants[GrantType(grantType)]
	if !ok {
		return nil, s.grantFailed(ctx, span, grantType, ErrUnsupportedGrantType("the grant type is not supported"))
	}

	resp, err := grant.RespondToAccessTokenRequest(ctx, req)
	if err != nil {
		return nil, s.grantFailed(ctx, span, grantType, err)
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) grantFailed(ctx context.Context, span trace.Span, grantType string, err error) error {
	oe := AsError(err)
	instrumentation.SetSpanError(span, oe.Code)
	if oe.Category == CategoryServer {
		s.Logger.Error("Token request failed", "grant_type", grantType, "error", err)
	} else {
		s.Logger.Debug("Token request rejected", "grant_type", grantType, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordGrantFailure(ctx, grantType, oe.Code)
	}
	return oe
}

// revokeAllForReuse is the response to a replayed code or refresh token.
func (s *Server) revokeAllForReuse(ctx context.Context, eventType, ownerID, clientID string) {
	revoked, err := s.repos.Revocations.RevokeAllForOwnerClient(ctx, ownerID, clientID)
	if err != nil {
		s.Logger.Error("Failed to revoke tokens after reuse detection", "client_id", clientID, "error", err)
	}
	s.Logger.Warn("Credential reuse detected - revoked all tokens",
		"event", eventType,
		"client_id", clientID,
		"tokens_revoked", revoked)
	s.Auditor.LogReuseDetected(eventType, ownerID, clientID, ipFromContext(ctx), revoked)
	if s.metrics == nil {
		return
	}
	if eventType == security.EventAuthorizationCodeReuseDetected {
		s.metrics.RecordCodeReuseDetected(ctx)
	} else {
		s.metrics.RecordTokenReuseDetected(ctx)
	}
}

type clientIPKey struct{}

func withClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ipFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
