package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth2-grants/internal/util"
	"github.com/giantswarm/oauth2-grants/storage"
)

// AuthoriseParams are the checked parameters of a session-flow
// authorization request.
type AuthoriseParams struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
	Scopes       []string
}

// CheckClientAuthoriseParams validates the parameters of a session-flow
// authorization request. Unlike ValidateAuthorizationRequest, redirect_uri
// is always required and scope is optional with no defaults applied.
func (s *Server) CheckClientAuthoriseParams(ctx context.Context, params url.Values) (*AuthoriseParams, error) {
	p := &AuthoriseParams{}
	for name, dst := range map[string]*string{
		"client_id":     &p.ClientID,
		"redirect_uri":  &p.RedirectURI,
		"response_type": &p.ResponseType,
		"state":         &p.State,
	} {
		v, err := singleParam(params, name)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	rawScope, err := singleParam(params, "scope")
	if err != nil {
		return nil, err
	}

	if p.ClientID == "" {
		return nil, ErrInvalidRequest("missing required parameter client_id")
	}
	if p.RedirectURI == "" {
		return nil, ErrInvalidRequest("missing required parameter redirect_uri")
	}

	client, err := s.repos.Clients.GetClient(ctx, p.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrUnauthorizedClient("the client is not authorized to request an authorization code")
		}
		return nil, storageError(err)
	}
	if !slices.Contains(client.RedirectURIs, p.RedirectURI) {
		return nil, ErrUnauthorizedClient("the client is not authorized to request an authorization code")
	}

	if p.ResponseType == "" {
		return nil, ErrInvalidRequest("missing required parameter response_type")
	}
	if !s.Config.responseTypeEnabled(p.ResponseType) {
		return nil, ErrUnsupportedResponseType("the response type is not supported")
	}

	if params.Has("scope") {
		scopes := util.SplitScopes(rawScope, s.Config.ScopeDelimiter)
		if len(scopes) == 0 {
			return nil, ErrInvalidRequest("scope must not be empty")
		}
		if err := s.checkScopes(ctx, scopes, client); err != nil {
			return nil, err
		}
		p.Scopes = scopes
	}

	return p, nil
}

// NewAuthoriseRequest records an approved session-flow request for the given
// owner and returns a new authorization code.
//
// If the owner already holds a live access token for the client, the
// requested scopes must be a subset of that token's scopes and the existing
// session is reused. Otherwise earlier sessions are replaced by a new one.
// The code is also stored as an AuthorizationCode so the authorization_code
// grant can exchange it.
func (s *Server) NewAuthoriseRequest(ctx context.Context, ownerType, ownerID string, params *AuthoriseParams) (string, error) {
	if s.repos.Sessions == nil {
		return "", ErrServerError("session flow is not configured")
	}
	if params == nil {
		return "", ErrInvalidRequest("missing authorization parameters")
	}
	if ownerType != storage.OwnerTypeUser && ownerType != storage.OwnerTypeClient {
		return "", fmt.Errorf("unknown owner type %q", ownerType)
	}
	if ownerID == "" {
		return "", fmt.Errorf("owner ID is required")
	}

	existing, err := s.repos.AccessTokens.FindActiveAccessToken(ctx, ownerID, params.ClientID)
	if err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return "", storageError(err)
	}

	if existing != nil && !util.IsSubset(params.Scopes, existing.Scopes) {
		return "", ErrInvalidScope("requested scope exceeds the existing grant")
	}

	code, err := s.newSessionAuthCode(ctx, params, ownerType, ownerID, existing)
	if err != nil {
		return "", err
	}

	now := s.now()
	if err := s.repos.Codes.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:        code,
		ClientID:    params.ClientID,
		UserID:      ownerID,
		RedirectURI: params.RedirectURI,
		Scopes:      params.Scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.Config.authCodeTTL()),
	}); err != nil {
		return "", storageError(err)
	}

	return code, nil
}

// newSessionAuthCode generates a code and binds it to a session. With an
// existing access token the session bound to it is updated in place.
func (s *Server) newSessionAuthCode(ctx context.Context, params *AuthoriseParams, ownerType, ownerID string, existing *storage.AccessToken) (string, error) {
	sessions := s.repos.Sessions
	code := newAuthCode()
	now := s.now()
	expiresAt := now.Add(s.Config.authCodeTTL())

	if existing != nil {
		sess, err := sessions.GetSessionByAccessToken(ctx, existing.ID)
		switch {
		case err == nil:
			if err := sessions.AssociateAuthCode(ctx, sess.ID, code, expiresAt); err != nil {
				return "", storageError(err)
			}
			return code, nil
		case !errors.Is(err, storage.ErrSessionNotFound):
			return "", storageError(err)
		}
		// token issued outside the session flow: start a session for it below
	}

	if err := sessions.DeleteSessions(ctx, params.ClientID, ownerType, ownerID); err != nil {
		return "", storageError(err)
	}

	sess := &storage.Session{
		ID:          uuid.NewString(),
		ClientID:    params.ClientID,
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		RedirectURI: params.RedirectURI,
		Stage:       storage.SessionStagePending,
		AuthCode:    code,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if existing != nil {
		sess.AccessTokenID = existing.ID
	}
	if err := sessions.CreateSession(ctx, sess); err != nil {
		return "", storageError(err)
	}
	for _, scope := range params.Scopes {
		if err := sessions.AddSessionScope(ctx, sess.ID, scope); err != nil {
			return "", storageError(err)
		}
	}
	return code, nil
}

// completeLegacySession moves the session holding code, if any, to granted.
func (s *Server) completeLegacySession(ctx context.Context, code string, access *storage.AccessToken) {
	if s.repos.Sessions == nil {
		return
	}
	sess, err := s.repos.Sessions.GetSessionByAuthCode(ctx, code)
	if err != nil {
		if !errors.Is(err, storage.ErrSessionNotFound) {
			s.Logger.Warn("Failed to look up session for exchanged code", "error", err)
		}
		return
	}
	if err := s.repos.Sessions.AssociateAccessToken(ctx, sess.ID, access.ID); err != nil {
		s.Logger.Warn("Failed to bind access token to session", "session_id", sess.ID, "error", err)
	}
}

// RedirectURI appends params to uri. The separator is "&" when uri already
// contains delimiter, otherwise delimiter itself ("?" for query, "#" for
// fragment responses).
func RedirectURI(uri string, params url.Values, delimiter string) string {
	if delimiter == "" {
		delimiter = "?"
	}
	sep := delimiter
	if strings.Contains(uri, delimiter) {
		sep = "&"
	}
	return uri + sep + params.Encode()
}
