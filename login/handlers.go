package login

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/panyam/portalauth/client"
)

// sessionView is the JSON body of GET /session
type sessionView struct {
	Authenticated bool            `json:"authenticated"`
	Loading       bool            `json:"loading"`
	State         string          `json:"state"`
	Profile       *client.Profile `json:"profile,omitempty"`
}

type errorBody struct {
	Success bool            `json:"success"`
	Error   client.APIError `json:"error"`
}

// Router returns the login routes. When the redirect store needs per-request
// session loading (SCSRedirectStore) its middleware is installed.
func (f *Flow) Router() *mux.Router {
	r := mux.NewRouter()
	f.RegisterRoutes(r)
	if mw, ok := f.Redirects.(interface {
		LoadAndSave(http.Handler) http.Handler
	}); ok {
		r.Use(mw.LoadAndSave)
	}
	return r
}

// RegisterRoutes adds the login routes to r
func (f *Flow) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(LoginPath, f.handleLogin).Methods(http.MethodGet)
	r.HandleFunc(RegisterPath, f.handleRegister).Methods(http.MethodGet)
	r.HandleFunc(CallbackPath, f.handleCallback).Methods(http.MethodGet)
	r.HandleFunc(LogoutPath, f.handleLogout).Methods(http.MethodPost)
	r.HandleFunc(SessionPath, f.handleSession).Methods(http.MethodGet)
}

func (f *Flow) handleLogin(w http.ResponseWriter, r *http.Request) {
	target := SafeRedirectTarget(r.URL.Query().Get("redirect"))
	providerURL, err := f.Begin(r.Context(), target, "")
	if err != nil {
		f.Logger.Error().Err(err).Msg("cannot start login")
		writeError(w, http.StatusInternalServerError, "LOGIN_UNAVAILABLE", "Login is not configured")
		return
	}
	http.Redirect(w, r, providerURL, http.StatusFound)
}

func (f *Flow) handleRegister(w http.ResponseWriter, r *http.Request) {
	registerURL, err := f.RegisterURL(r.URL.Query().Get("redirect"))
	if err != nil {
		f.Logger.Error().Err(err).Msg("cannot build register URL")
		writeError(w, http.StatusInternalServerError, "LOGIN_UNAVAILABLE", "Registration is not configured")
		return
	}
	http.Redirect(w, r, registerURL, http.StatusFound)
}

func (f *Flow) handleCallback(w http.ResponseWriter, r *http.Request) {
	target, err := f.Complete(r.Context(), ParseCallback(r.URL.Query()))
	switch {
	case err == nil:
		http.Redirect(w, r, target, http.StatusFound)
	case errors.Is(err, client.ErrMissingAccessToken):
		writeError(w, http.StatusBadRequest, "MISSING_TOKEN", "The sign-in response did not include a token")
	case client.IsKind(err, client.KindServerRejected):
		writeError(w, http.StatusUnauthorized, "LOGIN_REJECTED", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "LOGIN_FAILED", err.Error())
	}
}

func (f *Flow) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.Logout(r.Context())
	if to := r.URL.Query().Get("to"); to != "" {
		http.Redirect(w, r, SafeRedirectTarget(to), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *Flow) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := f.Session.Snapshot()
	writeJSON(w, http.StatusOK, sessionView{
		Authenticated: snap.IsAuthenticated(),
		Loading:       snap.Loading,
		State:         snap.State.String(),
		Profile:       snap.Profile,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: client.APIError{Code: code, Message: message}})
}
