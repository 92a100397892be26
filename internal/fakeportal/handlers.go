package fakeportal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/panyam/portalauth/client"
)

// Identity provider paths served next to the API
const (
	IdentityLoginPath    = "/idp/"
	IdentityRegisterPath = "/idp/register.html"
)

type envelope struct {
	Success bool             `json:"success"`
	Data    any              `json:"data,omitempty"`
	Error   *client.APIError `json:"error,omitempty"`
}

// Handler returns the portal API and identity provider routes.
// defaultUserID is signed in when the provider is visited without a user parameter.
func (p *Portal) Handler(defaultUserID string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(client.ProfilePath, p.handleProfile).Methods(http.MethodGet)
	r.HandleFunc(client.RefreshPath, p.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc(client.LogoutPath, p.handleLogout).Methods(http.MethodPost)
	r.HandleFunc(IdentityRegisterPath, p.identityHandler(defaultUserID)).Methods(http.MethodGet)
	r.HandleFunc(IdentityLoginPath, p.identityHandler(defaultUserID)).Methods(http.MethodGet)
	return r
}

func (p *Portal) handleProfile(w http.ResponseWriter, r *http.Request) {
	p.ProfileCalls.Add(1)

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization required")
		return
	}
	userID, err := p.ValidateAccessToken(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
		return
	}
	user, ok := p.User(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: user})
}

func (p *Portal) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p.RefreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token required")
		return
	}

	userID, newRefresh, err := p.RotateRefreshToken(req.RefreshToken)
	switch {
	case errors.Is(err, ErrTokenReused):
		writeError(w, http.StatusUnauthorized, "TOKEN_REUSED", "Token reuse detected, all sessions revoked")
		return
	case errors.Is(err, ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked")
		return
	case errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired")
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, "INVALID_GRANT", "Invalid refresh token")
		return
	}

	access, err := p.CreateAccessToken(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Failed to create token")
		return
	}

	data := client.RefreshResult{AccessToken: access, RefreshToken: newRefresh}
	if !p.OmitUserOnRefresh {
		if user, ok := p.User(userID); ok {
			data.User = &user
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	p.LogoutCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token required")
		return
	}
	// Unknown tokens are not reported
	p.RevokeRefreshToken(req.RefreshToken)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"message": "Logged out"}})
}

// identityHandler signs a user in and redirects to redirect_url with the token
// pair, passing state through.
func (p *Portal) identityHandler(defaultUserID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		callback, err := url.Parse(q.Get("redirect_url"))
		if err != nil || callback.Host == "" {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "redirect_url required")
			return
		}

		userID := q.Get("user")
		if userID == "" {
			userID = defaultUserID
		}
		access, refresh, err := p.IssueTokens(userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNKNOWN_USER", "Unknown user")
			return
		}

		cq := callback.Query()
		cq.Set("token", access)
		cq.Set("refresh_token", refresh)
		if state := q.Get("state"); state != "" {
			cq.Set("state", state)
		}
		callback.RawQuery = cq.Encode()
		http.Redirect(w, r, callback.String(), http.StatusFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &client.APIError{Code: code, Message: message}})
}
