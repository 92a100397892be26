package client

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenSource exposes the session's access token as an oauth2.TokenSource.
// It never refreshes on its own; proactive refresh is the Manager's job.
func (m *Manager) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{m: m}
}

type sessionTokenSource struct {
	m *Manager
}

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	access := s.m.AccessToken()
	if access == "" {
		return nil, ErrMissingAccessToken
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if expiry, ok := DecodeExpiry(access); ok {
		tok.Expiry = expiry
	}
	return tok, nil
}

// AuthTransport wraps an http.RoundTripper to add the session's bearer token.
// A 401 response triggers one retry when the request body can be replayed,
// after a refresh unless the session token changed while the request was out.
type AuthTransport struct {
	Base    http.RoundTripper
	Session *Manager
}

// NewAuthTransport creates an AuthTransport over base. A nil base uses
// http.DefaultTransport.
func NewAuthTransport(session *Manager, base http.RoundTripper) *AuthTransport {
	return &AuthTransport{
		Base:    base,
		Session: session,
	}
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	token := t.Session.AccessToken()
	if token == "" {
		return base.RoundTrip(req)
	}

	resp, err := base.RoundTrip(withBearer(req, token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !replayable(req) {
		return resp, nil
	}

	// A concurrent refresh may already have replaced the rejected token
	access := t.Session.AccessToken()
	if access == "" {
		return resp, nil
	}
	if access == token {
		creds, refreshErr := t.Session.RefreshSession(req.Context())
		if refreshErr != nil {
			if !errors.Is(refreshErr, ErrMissingRefreshToken) {
				t.Session.log.Warn().Err(refreshErr).Msg("refresh after 401 failed")
			}
			return resp, nil
		}
		access = creds.AccessToken
	}
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return base.RoundTrip(withBearer(retry, access))
}

// withBearer clones the request so the caller's copy is never mutated
func withBearer(req *http.Request, access string) *http.Request {
	out := req.Clone(req.Context())
	(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}).SetAuthHeader(out)
	return out
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// HTTPClient returns an http.Client whose requests carry the session's token.
// Options from template (timeout, jar, redirect policy) are copied over.
func (m *Manager) HTTPClient(template *http.Client) *http.Client {
	out := &http.Client{Timeout: DefaultRequestTimeout}
	var base http.RoundTripper
	if template != nil {
		base = template.Transport
		out.Timeout = template.Timeout
		out.Jar = template.Jar
		out.CheckRedirect = template.CheckRedirect
	}
	out.Transport = NewAuthTransport(m, base)
	return out
}
