package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/giantswarm/oauth2-grants/storage"
)

// AuthorizationRequest is a validated authorization endpoint request, ready
// to be shown to the resource owner for approval.
type AuthorizationRequest struct {
	Client              *storage.Client
	ResponseType        string
	RedirectURI         string
	State               string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizationRequest checks an authorization endpoint request.
//
// When the client or redirect URI cannot be trusted the returned request is
// nil and the error must be shown to the user directly. Otherwise the
// request is returned even on error so AuthorizationErrorRedirect can send
// the error back to the client.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, params url.Values) (*AuthorizationRequest, error) {
	get := func(name string) (string, error) { return singleParam(params, name) }

	clientID, err := get("client_id")
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, ErrInvalidRequest("missing required parameter client_id")
	}
	client, err := s.repos.Clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, storageError(err)
	}

	supplied, err := get("redirect_uri")
	if err != nil {
		return nil, err
	}
	redirectURI, err := validateRedirectURI(client, supplied)
	if err != nil {
		return nil, err
	}

	areq := &AuthorizationRequest{Client: client, RedirectURI: redirectURI}
	if areq.State, err = get("state"); err != nil {
		return areq, err
	}

	// ResponseType is only set once supported, so errors before that
	// point redirect with the query delimiter
	responseType, err := get("response_type")
	if err != nil {
		return areq, err
	}
	if responseType == "" {
		return areq, ErrInvalidRequest("missing required parameter response_type")
	}
	if _, ok := s.responders[responseType]; !ok {
		return areq, ErrUnsupportedResponseType("the response type is not supported")
	}
	areq.ResponseType = responseType
	if !client.AllowsGrantType(string(grantForResponseType(areq.ResponseType))) {
		return areq, ErrUnauthorizedClient("client is not allowed to use this response type")
	}

	rawScope, err := get("scope")
	if err != nil {
		return areq, err
	}
	if areq.Scopes, err = s.validateScopes(ctx, rawScope, params.Has("scope"), client); err != nil {
		return areq, err
	}

	if areq.ResponseType == ResponseTypeCode {
		challenge, err := get("code_challenge")
		if err != nil {
			return areq, err
		}
		method, err := get("code_challenge_method")
		if err != nil {
			return areq, err
		}
		if areq.CodeChallengeMethod, err = s.validateCodeChallenge(challenge, method); err != nil {
			return areq, err
		}
		areq.CodeChallenge = challenge
		if challenge == "" && !client.IsConfidential() && s.Config.RequirePKCEForPublicClients {
			return areq, ErrInvalidRequest("code_challenge is required for public clients")
		}
	}

	return areq, nil
}

// CompleteAuthorizationRequest finishes an approved or denied request and
// returns the URL to redirect the user agent to.
func (s *Server) CompleteAuthorizationRequest(ctx context.Context, areq *AuthorizationRequest, ownerID string, approved bool) (string, error) {
	if areq == nil || areq.Client == nil {
		return "", fmt.Errorf("authorization request is required")
	}
	if !approved {
		return s.AuthorizationErrorRedirect(areq, ErrAccessDenied("the resource owner denied the request")), nil
	}
	if ownerID == "" {
		return "", fmt.Errorf("owner ID is required")
	}

	responder, ok := s.responders[areq.ResponseType]
	if !ok {
		return s.AuthorizationErrorRedirect(areq, ErrUnsupportedResponseType("the response type is not supported")), nil
	}
	redirect, err := responder.CompleteAuthorizationRequest(ctx, areq, ownerID)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.RecordAuthorizationIssued(ctx, areq.Client.ClientID, areq.ResponseType)
	}
	return redirect, nil
}

// AuthorizationErrorRedirect returns the redirect carrying err back to the
// client. The implicit flow uses the fragment, everything else the query.
func (s *Server) AuthorizationErrorRedirect(areq *AuthorizationRequest, err error) string {
	oe := AsError(err)
	params := url.Values{}
	params.Set("error", oe.Code)
	params.Set("error_description", oe.Description)
	if areq.State != "" {
		params.Set("state", areq.State)
	}
	return RedirectURI(areq.RedirectURI, params, redirectDelimiter(areq.ResponseType))
}

func grantForResponseType(responseType string) GrantType {
	if responseType == ResponseTypeToken {
		return GrantTypeImplicit
	}
	return GrantTypeAuthorizationCode
}

func redirectDelimiter(responseType string) string {
	if responseType == ResponseTypeToken {
		return "#"
	}
	return "?"
}
