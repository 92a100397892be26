package client

import (
	"context"
	"errors"
)

// Bootstrap outcomes recorded in metrics
const (
	bootAnonymous     = "anonymous"
	bootAuthenticated = "authenticated"
	bootRefreshed     = "refreshed"
	bootCleared       = "cleared"
	bootSuperseded    = "superseded"
)

// Bootstrap reconciles persisted credentials with the server. It runs once per
// Manager; later calls wait for the first and return its result.
//
// A persisted access token is validated by loading the profile. When that fails
// and a refresh token is persisted, the session is refreshed once; any further
// failure clears the session. Loading is false once Bootstrap returns.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.bootOnce.Do(func() {
		m.bootErr = m.bootstrap(ctx)
		m.mu.Lock()
		m.loading = false
		if m.state == StateBootstrapping || m.state == StateUninitialized {
			m.state = StateAnonymous
		}
		m.mu.Unlock()
		close(m.ready)
	})
	return m.bootErr
}

func (m *Manager) bootstrap(ctx context.Context) error {
	creds, err := m.store.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read persisted credentials, starting anonymous")
		creds = Credentials{}
	}

	m.mu.Lock()
	generation := m.generation
	if !creds.HasAccessToken() {
		m.state = StateAnonymous
		m.mu.Unlock()
		m.metrics.observeBootstrap(bootAnonymous)
		m.log.Debug().Msg("no persisted session")
		return nil
	}
	m.state = StateBootstrapping
	m.creds = creds
	delay, armed := m.scheduler.arm(m.creds, m.generation)
	if !armed {
		delay = 0
	}
	m.metrics.observeSchedule(delay)
	m.mu.Unlock()

	_, err = m.LoadProfile(ctx, creds.AccessToken)
	if err == nil {
		m.metrics.observeBootstrap(bootAuthenticated)
		m.log.Info().Msg("restored persisted session")
		return nil
	}
	if errors.Is(err, ErrSessionCleared) {
		m.metrics.observeBootstrap(bootSuperseded)
		return nil
	}

	if !creds.HasRefreshToken() {
		m.log.Info().Err(err).Msg("persisted session rejected, clearing")
		return m.finishBootstrapCleared(generation, err)
	}

	m.log.Debug().Err(err).Msg("persisted access token rejected, refreshing")
	if _, err := m.RefreshSession(ctx); err != nil {
		if errors.Is(err, ErrSessionCleared) {
			m.metrics.observeBootstrap(bootSuperseded)
			return nil
		}
		m.log.Info().Err(err).Msg("could not refresh persisted session, clearing")
		return m.finishBootstrapCleared(generation, err)
	}

	m.metrics.observeBootstrap(bootRefreshed)
	m.log.Info().Msg("restored persisted session after refresh")
	return nil
}

// finishBootstrapCleared clears unless a login completed while bootstrapping,
// in which case the failure belongs to a session that no longer exists.
func (m *Manager) finishBootstrapCleared(generation uint64, cause error) error {
	if !m.clearIf(generation, "bootstrap_failed") {
		m.metrics.observeBootstrap(bootSuperseded)
		return nil
	}
	m.metrics.observeBootstrap(bootCleared)
	return cause
}
