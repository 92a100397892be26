package client

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle position of a session
type State int

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	Credentials Credentials `json:"-"`
	Profile     *Profile    `json:"profile,omitempty"`
	Loading     bool        `json:"loading"`
	State       State       `json:"-"`
	Generation  uint64      `json:"-"`
}

// IsAuthenticated is true iff a profile is loaded
func (s Snapshot) IsAuthenticated() bool {
	return s.Profile != nil
}

// Manager is the session state machine. It owns the credential pair and the
// profile, persists credentials through a CredentialStore and keeps the access
// token fresh with a single proactive-refresh timer.
//
// A Manager is safe for concurrent use. Construct one per process and hand it
// to the components that need it.
type Manager struct {
	store          CredentialStore
	backend        Backend
	log            zerolog.Logger
	clock          clockwork.Clock
	metrics        *Metrics
	refreshMargin  time.Duration
	refreshFloor   time.Duration
	refreshTimeout time.Duration

	mu         sync.Mutex
	creds      Credentials
	profile    *Profile
	loading    bool
	state      State
	generation uint64
	scheduler  *refreshScheduler

	refreshGroup singleflight.Group

	bootOnce sync.Once
	bootErr  error
	ready    chan struct{}
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithClock sets the clock used for refresh scheduling
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithRefreshMargin sets how long before expiry a refresh is scheduled
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.refreshMargin = d
		}
	}
}

// WithRefreshFloor sets the minimum delay of a scheduled refresh
func WithRefreshFloor(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshFloor = d
		}
	}
}

// WithRefreshTimeout bounds a refresh exchange, which runs detached from the
// caller that started it so concurrent callers can share it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithMetrics records session metrics
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a session manager. The session starts uninitialized and
// loading; call Bootstrap once to reconcile persisted credentials.
func NewManager(store CredentialStore, backend Backend, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryCredentialStore()
	}
	m := &Manager{
		store:          store,
		backend:        backend,
		log:            log.Logger,
		clock:          clockwork.NewRealClock(),
		refreshMargin:  DefaultRefreshMargin,
		refreshFloor:   DefaultRefreshFloor,
		refreshTimeout: DefaultRequestTimeout,
		loading:        true,
		state:          StateUninitialized,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "session").Logger()
	m.scheduler = &refreshScheduler{
		clock:  m.clock,
		margin: m.refreshMargin,
		floor:  m.refreshFloor,
		log:    m.log,
		onFire: m.onScheduledRefresh,
	}
	return m
}

// Snapshot returns a copy of the current session
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Credentials: m.creds,
		Profile:     m.profile.clone(),
		Loading:     m.loading,
		State:       m.state,
		Generation:  m.generation,
	}
}

// AccessToken returns the current access token, or "" when anonymous
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.AccessToken
}

// Profile returns a copy of the loaded profile, or nil
func (m *Manager) Profile() *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.clone()
}

// IsAuthenticated is true iff a profile is loaded
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile != nil
}

// IsLoading is true until Bootstrap reaches a terminal state
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready is closed once Bootstrap has finished
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// RefreshPending reports whether a proactive refresh is armed
func (m *Manager) RefreshPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler.pending()
}

// LoadProfile fetches the user with tokenOverride, or with the current access
// token when tokenOverride is empty, and replaces the profile wholesale.
func (m *Manager) LoadProfile(ctx context.Context, tokenOverride string) (*Profile, error) {
	m.mu.Lock()
	token := tokenOverride
	if token == "" {
		token = m.creds.AccessToken
	}
	generation := m.generation
	m.mu.Unlock()

	if token == "" {
		return nil, ErrMissingAccessToken
	}

	payload, err := m.backend.FetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	profile := NormalizeProfile(payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation {
		return nil, ErrSessionCleared
	}
	m.profile = profile
	m.state = StateAuthenticated
	return profile.clone(), nil
}

// CompleteLogin starts a new session from the identity provider's callback.
// Credentials are persisted before the profile is loaded; a failed load is
// returned to the caller, the credentials stay persisted and the session reads
// as anonymous until a profile loads.
// An empty refresh removes any persisted refresh token.
func (m *Manager) CompleteLogin(ctx context.Context, access, refresh string) (*Profile, error) {
	if access == "" {
		return nil, ErrMissingAccessToken
	}

	m.mu.Lock()
	m.generation++
	m.profile = nil
	if m.state == StateAuthenticated {
		m.state = StateAnonymous
	}
	m.persistLocked(access, Refresh(refresh))
	m.mu.Unlock()

	profile, err := m.LoadProfile(ctx, access)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("user", profile.ID).Msg("login completed")
	return profile, nil
}

// RefreshSession exchanges the refresh token for a new pair, persists it and
// updates the profile from the response or with a fresh load.
//
// Concurrent calls share one exchange: later callers wait for the one in flight
// and receive its result. A caller may stop waiting by cancelling ctx; the
// exchange itself is bounded by the refresh timeout.
func (m *Manager) RefreshSession(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	key := strconv.FormatUint(m.generation, 10)
	m.mu.Unlock()

	ch := m.refreshGroup.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	refreshToken := m.creds.RefreshToken
	generation := m.generation
	m.mu.Unlock()

	if refreshToken == "" {
		return Credentials{}, ErrMissingRefreshToken
	}

	start := m.clock.Now()
	res, err := m.backend.Refresh(ctx, refreshToken)
	m.metrics.observeRefresh(err, m.clock.Since(start))
	if err != nil {
		return Credentials{}, err
	}

	m.mu.Lock()
	if generation != m.generation {
		m.mu.Unlock()
		return Credentials{}, ErrSessionCleared
	}
	m.persistLocked(res.AccessToken, Refresh(res.RefreshToken))
	creds := m.creds
	if res.User != nil {
		m.profile = NormalizeProfile(res.User)
		m.state = StateAuthenticated
	}
	m.mu.Unlock()

	if res.User == nil {
		if _, err := m.LoadProfile(ctx, res.AccessToken); err != nil {
			return Credentials{}, err
		}
	}

	m.log.Info().Bool("rotated", res.RefreshToken != "" && res.RefreshToken != refreshToken).Msg("session refreshed")
	return creds, nil
}

// Logout revokes the refresh token server-side, best effort, then clears the
// local session regardless of the outcome.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	refreshToken := m.creds.RefreshToken
	m.mu.Unlock()

	if refreshToken != "" {
		if err := m.backend.Logout(ctx, refreshToken); err != nil {
			m.log.Warn().Err(err).Msg("failed to log out cleanly")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked("logout")
}

// ClearSession forgets everything: persisted credentials, in-memory state and
// the pending refresh timer. It always succeeds and is idempotent.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked("cleared")
}

// Close disarms the refresh timer without touching the session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler.disarm()
	m.metrics.observeSchedule(0)
}

// clearIf clears the session only if it is still the one identified by
// generation. It returns true if it cleared.
func (m *Manager) clearIf(generation uint64, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation {
		return false
	}
	m.clearLocked(reason)
	return true
}

// persistLocked writes the pair through the store, updates memory and re-arms
// the scheduler. Store failures degrade to an in-memory session.
func (m *Manager) persistLocked(access string, refresh *string) {
	if err := m.store.Save(access, refresh); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist credentials")
	}
	m.creds = ApplySave(m.creds, access, refresh)

	delay, armed := m.scheduler.arm(m.creds, m.generation)
	if !armed {
		delay = 0
	}
	m.metrics.observeSchedule(delay)
}

func (m *Manager) clearLocked(reason string) {
	if err := m.store.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear persisted credentials")
	}
	m.scheduler.disarm()
	m.metrics.observeSchedule(0)
	m.metrics.observeClear(reason)

	wasAuthenticated := m.profile != nil
	m.creds = Credentials{}
	m.profile = nil
	m.state = StateAnonymous
	m.generation++

	if wasAuthenticated {
		m.log.Info().Str("reason", reason).Msg("session cleared")
	}
}

// onScheduledRefresh runs when the proactive refresh timer fires.
// A failed proactive refresh is terminal for the session.
func (m *Manager) onScheduledRefresh(seq, generation uint64) {
	m.mu.Lock()
	claimed := m.scheduler.claim(seq)
	m.mu.Unlock()
	if !claimed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	if _, err := m.RefreshSession(ctx); err != nil {
		if errors.Is(err, ErrSessionCleared) {
			return
		}
		m.log.Error().Err(err).Msg("scheduled refresh failed, clearing session")
		m.clearIf(generation, "refresh_failed")
	}
}
