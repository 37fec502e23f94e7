// Package oauth serves the token, authorization and revocation endpoints of
// an OAuth 2.0 authorization server over the grant engine in package server.
package oauth

import (
	"log/slog"

	"github.com/giantswarm/oauth2-grants/providers"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/server"
	"github.com/giantswarm/oauth2-grants/storage"
)

// Server is the grant engine
type Server = server.Server

// ServerConfig configures the grant engine
type ServerConfig = server.Config

// NewServer creates a grant engine with security audit logging enabled.
// authenticator may be nil unless the password grant is enabled.
func NewServer(
	repos storage.Repositories,
	codec server.TokenCodec,
	authenticator providers.Authenticator,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	srv, err := server.New(repos, codec, authenticator, config, logger)
	if err != nil {
		return nil, err
	}
	srv.SetAuditor(security.NewAuditor(logger, true))
	return srv, nil
}
