package login

import (
	"context"
	"net/http"
	"sync"

	"github.com/alexedwards/scs/v2"
)

// DefaultRedirectKey is the session key holding the Pending Redirect
const DefaultRedirectKey = "portal.postLoginRedirect"

// RedirectStore holds the Pending Redirect: the path to return to once the
// identity provider hands control back. It is scoped to one browser session.
type RedirectStore interface {
	// SetPendingRedirect replaces the pending redirect
	SetPendingRedirect(ctx context.Context, path string)

	// TakePendingRedirect returns the pending redirect and clears it.
	// It returns "" when none is pending.
	TakePendingRedirect(ctx context.Context) string

	// ClearPendingRedirect drops any pending redirect
	ClearPendingRedirect(ctx context.Context)
}

// SCSRedirectStore keeps the Pending Redirect in an scs session, so it lives
// exactly as long as the browser's session cookie.
//
// Requests must pass through LoadAndSave.
type SCSRedirectStore struct {
	Session *scs.SessionManager
	Key     string
}

// NewSCSRedirectStore creates a store on session. A nil session gets a
// memory-backed scs manager with a session-only cookie.
func NewSCSRedirectStore(session *scs.SessionManager) *SCSRedirectStore {
	if session == nil {
		session = scs.New()
		session.Cookie.Name = "portal_session"
		session.Cookie.Persist = false
		session.Cookie.HttpOnly = true
		session.Cookie.SameSite = http.SameSiteLaxMode
	}
	return &SCSRedirectStore{Session: session, Key: DefaultRedirectKey}
}

func (s *SCSRedirectStore) SetPendingRedirect(ctx context.Context, path string) {
	s.Session.Put(ctx, s.Key, path)
}

func (s *SCSRedirectStore) TakePendingRedirect(ctx context.Context) string {
	return s.Session.PopString(ctx, s.Key)
}

func (s *SCSRedirectStore) ClearPendingRedirect(ctx context.Context) {
	s.Session.Remove(ctx, s.Key)
}

// LoadAndSave is the scs session middleware, usable with mux.Router.Use
func (s *SCSRedirectStore) LoadAndSave(next http.Handler) http.Handler {
	return s.Session.LoadAndSave(next)
}

// MemoryRedirectStore holds a single Pending Redirect for processes that serve
// exactly one user, such as a local CLI login.
type MemoryRedirectStore struct {
	mu   sync.Mutex
	path string
}

func (m *MemoryRedirectStore) SetPendingRedirect(_ context.Context, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path
}

func (m *MemoryRedirectStore) TakePendingRedirect(_ context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.path
	m.path = ""
	return out
}

func (m *MemoryRedirectStore) ClearPendingRedirect(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = ""
}
