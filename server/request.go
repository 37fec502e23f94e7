package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// maxFormSize bounds token endpoint request bodies
const maxFormSize = 64 << 10

// Request is a token or revocation endpoint request: its form parameters
// plus any HTTP Basic client credentials.
type Request struct {
	Form url.Values

	// IPAddress is used for audit records only
	IPAddress string

	basicID     string
	basicSecret string
	hasBasic    bool
}

// NewRequest builds a Request from form values.
func NewRequest(form url.Values) *Request {
	if form == nil {
		form = url.Values{}
	}
	return &Request{Form: form}
}

// WithBasicAuth sets HTTP Basic client credentials.
func (r *Request) WithBasicAuth(clientID, clientSecret string) *Request {
	r.basicID = clientID
	r.basicSecret = clientSecret
	r.hasBasic = true
	return r
}

// ParseHTTPRequest reads a POST form body and Basic credentials.
// Query string parameters are ignored on the token endpoint.
func ParseHTTPRequest(r *http.Request) (*Request, error) {
	if r.Method != http.MethodPost {
		return nil, ErrInvalidRequest("token requests must use POST")
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return nil, ErrInvalidRequest("content type must be application/x-www-form-urlencoded")
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		return nil, ErrInvalidRequest("malformed request body").WithCause(err)
	}

	req := NewRequest(r.PostForm)
	if id, secret, ok := r.BasicAuth(); ok {
		// RFC 6749 section 2.3.1: credentials are form-encoded before Basic encoding
		uid, err1 := url.QueryUnescape(id)
		usecret, err2 := url.QueryUnescape(secret)
		if err1 != nil || err2 != nil {
			return nil, ErrInvalidClient("malformed client credentials")
		}
		req.WithBasicAuth(uid, usecret)
	}
	return req, nil
}

// Param returns the single value of name. A repeated parameter is an error
// (RFC 6749 section 3.1).
func (r *Request) Param(name string) (string, error) {
	return singleParam(r.Form, name)
}

func singleParam(params url.Values, name string) (string, error) {
	values := params[name]
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return values[0], nil
	default:
		return "", ErrInvalidRequest(fmt.Sprintf("parameter %s must not be repeated", name))
	}
}

// Has reports whether name was sent at all, even empty.
func (r *Request) Has(name string) bool {
	_, ok := r.Form[name]
	return ok
}

// RequiredParam is Param that also rejects a missing or empty value.
func (r *Request) RequiredParam(name string) (string, error) {
	v, err := r.Param(name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrInvalidRequest(fmt.Sprintf("missing required parameter %s", name))
	}
	return v, nil
}

// clientCredentials returns the presented client ID and secret. Using both
// Basic auth and body credentials is rejected.
func (r *Request) clientCredentials() (clientID, clientSecret string, err error) {
	bodyID, err := r.Param("client_id")
	if err != nil {
		return "", "", err
	}
	bodySecret, err := r.Param("client_secret")
	if err != nil {
		return "", "", err
	}

	if r.hasBasic {
		if bodySecret != "" || (bodyID != "" && bodyID != r.basicID) {
			return "", "", ErrInvalidRequest("client authenticated with more than one method")
		}
		return r.basicID, r.basicSecret, nil
	}
	return bodyID, bodySecret, nil
}
