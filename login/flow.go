// Package login drives the browser side of the external login flow: it records
// where to return after login, hands off to the identity provider and completes
// the session from the provider's callback.
package login

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/panyam/portalauth/client"
)

// Paths served by the login routes
const (
	LoginPath    = "/login"
	RegisterPath = "/register"
	CallbackPath = "/auth/callback"
	LogoutPath   = "/logout"
	SessionPath  = "/session"
)

// Callback is what the identity provider sends back
type Callback struct {
	Token        string
	RefreshToken string
	// Fallback is the redirect/state parameter, used when no redirect is pending
	Fallback string
}

// Flow wires the session manager to the identity provider
type Flow struct {
	Session   *client.Manager
	Redirects RedirectStore

	// AuthUIURL is the identity provider's login page
	AuthUIURL string

	// CallbackURL is where the provider returns, usually <public origin>/auth/callback
	CallbackURL string

	Logger zerolog.Logger
}

// NewFlow creates a Flow. publicURL is the origin the browser uses to reach this app.
func NewFlow(session *client.Manager, redirects RedirectStore, authUIURL, publicURL string) *Flow {
	if redirects == nil {
		redirects = &MemoryRedirectStore{}
	}
	return &Flow{
		Session:     session,
		Redirects:   redirects,
		AuthUIURL:   authUIURL,
		CallbackURL: strings.TrimSuffix(publicURL, "/") + CallbackPath,
		Logger:      log.Logger.With().Str("component", "login").Logger(),
	}
}

// Begin records the post-login target and returns the provider URL to send the
// browser to. The target is redirectPath, else currentLocation, else "/".
// Returning to the login page itself becomes "/".
func (f *Flow) Begin(ctx context.Context, redirectPath, currentLocation string) (string, error) {
	providerURL, err := url.Parse(f.AuthUIURL)
	if err != nil || providerURL.Host == "" {
		return "", fmt.Errorf("invalid auth UI URL %q", f.AuthUIURL)
	}

	desired := redirectPath
	if desired == "" {
		desired = currentLocation
	}
	desired = SafeRedirectTarget(desired)
	if isLoginPage(desired) {
		desired = "/"
	}
	f.Redirects.SetPendingRedirect(ctx, desired)

	q := providerURL.Query()
	q.Set("redirect_url", f.CallbackURL)
	providerURL.RawQuery = q.Encode()

	f.Logger.Debug().Str("target", desired).Msg("login started")
	return providerURL.String(), nil
}

// ParseCallback reads the provider's callback parameters
func ParseCallback(values url.Values) Callback {
	fallback := values.Get("redirect")
	if fallback == "" {
		fallback = values.Get("state")
	}
	return Callback{
		Token:        values.Get("token"),
		RefreshToken: values.Get("refresh_token"),
		Fallback:     fallback,
	}
}

// Complete starts the session from cb and returns where to navigate next: the
// pending redirect, else the callback's fallback, else "/".
//
// A callback without a token fails without touching the session or the pending
// redirect. A failed login leaves the pending redirect in place for a retry.
func (f *Flow) Complete(ctx context.Context, cb Callback) (string, error) {
	if cb.Token == "" {
		return "", client.ErrMissingAccessToken
	}

	if _, err := f.Session.CompleteLogin(ctx, cb.Token, cb.RefreshToken); err != nil {
		f.Logger.Warn().Err(err).Msg("login callback failed")
		return "", err
	}

	target := f.Redirects.TakePendingRedirect(ctx)
	if target == "" {
		target = SafeRedirectTarget(cb.Fallback)
	}
	return target, nil
}

// Logout drops the pending redirect and ends the session, so the next login
// cannot land on a page chosen before logout.
func (f *Flow) Logout(ctx context.Context) {
	f.Redirects.ClearPendingRedirect(ctx)
	f.Session.Logout(ctx)
}

// RegisterURL returns the provider's registration page. A target other than
// "/" travels in the state parameter.
func (f *Flow) RegisterURL(redirectTarget string) (string, error) {
	base := f.AuthUIURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return "", fmt.Errorf("invalid auth UI URL %q", f.AuthUIURL)
	}

	out := baseURL.ResolveReference(&url.URL{Path: "register.html"})
	q := url.Values{}
	q.Set("redirect_url", f.CallbackURL)
	if target := SafeRedirectTarget(redirectTarget); target != "/" {
		q.Set("state", target)
	}
	out.RawQuery = q.Encode()
	return out.String(), nil
}

// SafeRedirectTarget accepts same-site absolute paths only. Anything else,
// including protocol-relative "//host" and backslash tricks, becomes "/".
func SafeRedirectTarget(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return "/"
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}

func isLoginPage(target string) bool {
	path, _, _ := strings.Cut(target, "?")
	return strings.TrimSuffix(path, "/") == LoginPath
}
