package server

import (
	"context"
	"errors"
	"slices"

	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/security"
	"github.com/giantswarm/oauth2-grants/storage"
)

// validateClient authenticates the client that sent req and checks it may
// use grant. An empty grant skips the grant type check.
func (s *Server) validateClient(ctx context.Context, req *Request, grant GrantType) (*storage.Client, error) {
	clientID, clientSecret, err := req.clientCredentials()
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication required")
	}

	client, err := s.repos.Clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Debug("Client validation failed", "reason", "unknown_client", "client_id", util.SafeTruncate(clientID, 64))
			s.Auditor.LogAuthFailure(security.EventClientAuthFailed, "", clientID, req.IPAddress, "unknown_client")
			return nil, ErrInvalidClient("client authentication failed")
		}
		return nil, storageError(err)
	}

	// a secret is verified whenever the client has one; public clients
	// without a hash may send a stray secret, which is ignored
	if client.ClientSecretHash != "" || client.IsConfidential() {
		if clientSecret == "" {
			s.Auditor.LogAuthFailure(security.EventClientAuthFailed, "", clientID, req.IPAddress, "missing_secret")
			return nil, ErrInvalidClient("client authentication failed")
		}
		if err := s.repos.Clients.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
			if errors.Is(err, storage.ErrInvalidClientSecret) || errors.Is(err, storage.ErrClientNotFound) {
				s.Logger.Debug("Client validation failed", "reason", "invalid_secret", "client_id", clientID)
				s.Auditor.LogAuthFailure(security.EventClientAuthFailed, "", clientID, req.IPAddress, "invalid_secret")
				return nil, ErrInvalidClient("client authentication failed")
			}
			return nil, storageError(err)
		}
	}

	if grant != "" && !client.AllowsGrantType(string(grant)) {
		return nil, ErrUnauthorizedClient("client is not allowed to use this grant type")
	}
	return client, nil
}

// validateRedirectURI returns the redirect URI to use for client. supplied
// must match a registered URI exactly; when omitted, a single registered URI
// is used.
func validateRedirectURI(client *storage.Client, supplied string) (string, error) {
	if supplied == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", ErrInvalidRequest("missing required parameter redirect_uri")
	}
	if !slices.Contains(client.RedirectURIs, supplied) {
		return "", ErrInvalidRequest("redirect_uri does not match a registered redirect URI")
	}
	return supplied, nil
}

// validateScopes resolves the scope parameter for client. When the
// parameter was not sent (present == false) the client's default scopes,
// then the server defaults, are used. Defaults are checked like requested
// scopes.
func (s *Server) validateScopes(ctx context.Context, raw string, present bool, client *storage.Client) ([]string, error) {
	if !present {
		scopes := s.defaultScopes(client)
		if err := s.checkScopes(ctx, scopes, client); err != nil {
			s.Logger.Warn("Default scopes rejected", "client_id", client.ClientID, "scopes", scopes)
			return nil, err
		}
		return scopes, nil
	}

	scopes := util.SplitScopes(raw, s.Config.ScopeDelimiter)
	if len(scopes) == 0 {
		return nil, ErrInvalidScope("scope must not be empty")
	}
	if err := s.checkScopes(ctx, scopes, client); err != nil {
		return nil, err
	}
	return scopes, nil
}

// checkScopes fails with invalid_scope unless every scope is allowed for
// client and known to the scope repository.
func (s *Server) checkScopes(ctx context.Context, scopes []string, client *storage.Client) error {
	for _, scope := range scopes {
		if !client.AllowsScope(scope) {
			s.Logger.Debug("Scope validation failed", "reason", "not_allowed_for_client", "client_id", client.ClientID)
			return ErrInvalidScope("requested scope is invalid, unknown, or malformed")
		}
		if _, err := s.repos.Scopes.GetScope(ctx, scope); err != nil {
			if errors.Is(err, storage.ErrScopeNotFound) {
				s.Logger.Debug("Scope validation failed", "reason", "unknown_scope", "client_id", client.ClientID)
				return ErrInvalidScope("requested scope is invalid, unknown, or malformed")
			}
			return storageError(err)
		}
	}
	return nil
}

// defaultScopes returns client.DefaultScopes or, if empty, Config.DefaultScopes
func (s *Server) defaultScopes(client *storage.Client) []string {
	if client != nil && len(client.DefaultScopes) > 0 {
		return slices.Clone(client.DefaultScopes)
	}
	return slices.Clone(s.Config.DefaultScopes)
}

// requestScopes reads the scope parameter from req and validates it.
func (s *Server) requestScopes(ctx context.Context, req *Request, client *storage.Client) ([]string, error) {
	raw, err := req.Param("scope")
	if err != nil {
		return nil, err
	}
	return s.validateScopes(ctx, raw, req.Has("scope"), client)
}

// storageError maps a repository failure that is not a protocol outcome.
func storageError(err error) *Error {
	if errors.Is(err, storage.ErrUnavailable) {
		return ErrTemporarilyUnavailable("the server is temporarily unavailable").WithCause(err)
	}
	return ErrServerError("internal server error").WithCause(err)
}
