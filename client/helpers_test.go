package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testToken issues an HS256 token expiring at exp. Each call yields a distinct token.
func testToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"jti": uuid.NewString(),
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// testPortal is a scripted portal backend. Access tokens are valid only once
// registered with allow; refresh tokens only once registered with rotate.
type testPortal struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	access    map[string]*ProfilePayload
	refresh   map[string]RefreshResult
	loggedOut []string

	// refreshGate, when set, holds refresh responses until it is closed
	refreshGate chan struct{}
	logoutFails bool

	profileCalls atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func newTestPortal(t *testing.T) *testPortal {
	p := &testPortal{
		t:       t,
		access:  map[string]*ProfilePayload{},
		refresh: map[string]RefreshResult{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(ProfilePath, p.handleProfile)
	mux.HandleFunc(RefreshPath, p.handleRefresh)
	mux.HandleFunc(LogoutPath, p.handleLogout)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *testPortal) allow(access string, user *ProfilePayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.access[access] = user
}

func (p *testPortal) revoke(access string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.access, access)
}

func (p *testPortal) rotate(refresh string, res RefreshResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh[refresh] = res
}

func (p *testPortal) client() *APIClient {
	return NewAPIClient(p.server.URL)
}

func (p *testPortal) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (p *testPortal) reject(w http.ResponseWriter, status int, message string) {
	p.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": "UNAUTHORIZED", "message": message},
	})
}

func (p *testPortal) handleProfile(w http.ResponseWriter, r *http.Request) {
	p.profileCalls.Add(1)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	p.mu.Lock()
	user, ok := p.access[token]
	p.mu.Unlock()
	if !ok {
		p.reject(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": user})
}

func (p *testPortal) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p.refreshCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		p.reject(w, http.StatusBadRequest, "bad request")
		return
	}

	p.mu.Lock()
	gate := p.refreshGate
	res, ok := p.refresh[body.RefreshToken]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		p.reject(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

func (p *testPortal) handleLogout(w http.ResponseWriter, r *http.Request) {
	p.logoutCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	p.loggedOut = append(p.loggedOut, body.RefreshToken)
	fails := p.logoutFails
	p.mu.Unlock()

	if fails {
		p.reject(w, http.StatusInternalServerError, "boom")
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"message": "Logged out"}})
}

// newTestManager builds a Manager on a fake clock with a quiet logger
func newTestManager(t *testing.T, p *testPortal, store CredentialStore, opts ...Option) (*Manager, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	all := append([]Option{
		WithClock(clock),
		WithLogger(zerolog.Nop()),
	}, opts...)
	m := NewManager(store, p.client(), all...)
	t.Cleanup(m.Close)
	return m, clock
}

func alice() *ProfilePayload {
	return &ProfilePayload{
		ID:       "user-1",
		FullName: "Alice Example",
		Email:    "alice@example.com",
		Roles:    []string{"viewer"},
	}
}
