package client

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap_EmptyStore(t *testing.T) {
	p := newTestPortal(t)
	m, _ := newTestManager(t, p, NewMemoryCredentialStore())

	require.NoError(t, m.Bootstrap(context.Background()))

	assert.Equal(t, StateAnonymous, m.State())
	assert.False(t, m.IsLoading())
	assert.Equal(t, int32(0), p.profileCalls.Load())

	select {
	case <-m.Ready():
	default:
		t.Fatal("Ready() should be closed after Bootstrap")
	}
}

func TestBootstrap_ValidAccessWithoutRefresh(t *testing.T) {
	p := newTestPortal(t)
	store := NewMemoryCredentialStore()
	a1 := testToken(t, testEpoch.Add(time.Hour))
	require.NoError(t, store.Save(a1, nil))
	p.allow(a1, alice())

	m, _ := newTestManager(t, p, store)
	require.NoError(t, m.Bootstrap(context.Background()))

	assert.Equal(t, StateAuthenticated, m.State())
	assert.True(t, m.IsAuthenticated())
	assert.False(t, m.IsLoading())
	assert.Equal(t, int32(0), p.refreshCalls.Load())
	assert.Equal(t, "alice@example.com", m.Profile().Email)
}

func TestBootstrap_ExpiredAccessWithValidRefresh(t *testing.T) {
	p := newTestPortal(t)
	store := NewMemoryCredentialStore()
	expired := testToken(t, testEpoch.Add(-time.Hour))
	fresh := testToken(t, testEpoch.Add(time.Hour))
	require.NoError(t, store.Save(expired, Refresh("r1")))
	p.allow(fresh, alice())
	p.rotate("r1", RefreshResult{AccessToken: fresh, RefreshToken: "r2"})

	m, _ := newTestManager(t, p, store)
	require.NoError(t, m.Bootstrap(context.Background()))

	assert.Equal(t, StateAuthenticated, m.State())
	assert.False(t, m.IsLoading())
	assert.Equal(t, fresh, m.AccessToken())
	assert.Equal(t, int32(1), p.refreshCalls.Load())

	stored, _ := store.Load()
	assert.Equal(t, Credentials{AccessToken: fresh, RefreshToken: "r2"}, stored)
}

func TestBootstrap_ExpiredAccessWithoutRefresh(t *testing.T) {
	p := newTestPortal(t)
	store := NewMemoryCredentialStore()
	expired := testToken(t, testEpoch.Add(-time.Hour))
	require.NoError(t, store.Save(expired, nil))

	m, _ := newTestManager(t, p, store)
	err := m.Bootstrap(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateAnonymous, m.State())
	assert.False(t, m.IsLoading())
	assert.LessOrEqual(t, p.profileCalls.Load(), int32(1))
	assert.Equal(t, int32(0), p.refreshCalls.Load())

	stored, _ := store.Load()
	assert.True(t, stored.IsZero())
}

func TestBootstrap_RefreshRejectedClears(t *testing.T) {
	p := newTestPortal(t)
	store := NewMemoryCredentialStore()
	expired := testToken(t, testEpoch.Add(-time.Hour))
	require.NoError(t, store.Save(expired, Refresh("revoked")))

	metrics := NewMetrics(prometheus.NewRegistry())
	m, _ := newTestManager(t, p, store, WithMetrics(metrics))
	err := m.Bootstrap(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindServerRejected))

	assert.Equal(t, StateAnonymous, m.State())
	assert.False(t, m.IsLoading())
	assert.False(t, m.RefreshPending())
	stored, _ := store.Load()
	assert.True(t, stored.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Bootstraps.WithLabelValues("cleared")))
}

func TestBootstrap_RunsOnce(t *testing.T) {
	p := newTestPortal(t)
	store := NewMemoryCredentialStore()
	a1 := testToken(t, testEpoch.Add(time.Hour))
	require.NoError(t, store.Save(a1, Refresh("r1")))
	p.allow(a1, alice())

	m, _ := newTestManager(t, p, store)
	require.NoError(t, m.Bootstrap(context.Background()))
	require.NoError(t, m.Bootstrap(context.Background()))

	assert.Equal(t, int32(1), p.profileCalls.Load())
	assert.True(t, m.RefreshPending())
}

func TestBootstrap_LoginDuringBootstrapWins(t *testing.T) {
	p := newTestPortal(t)
	store := NewMemoryCredentialStore()
	expired := testToken(t, testEpoch.Add(-time.Hour))
	require.NoError(t, store.Save(expired, Refresh("r1")))

	fresh := testToken(t, testEpoch.Add(time.Hour))
	p.allow(fresh, alice())

	// hold the bootstrap's refresh until a new login has completed
	gate := make(chan struct{})
	p.mu.Lock()
	p.refreshGate = gate
	p.mu.Unlock()

	m, _ := newTestManager(t, p, store)
	done := make(chan error, 1)
	go func() { done <- m.Bootstrap(context.Background()) }()

	require.Eventually(t, func() bool { return p.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	_, err := m.CompleteLogin(context.Background(), fresh, "r9")
	require.NoError(t, err)
	close(gate)

	require.NoError(t, <-done)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, fresh, m.AccessToken())
	stored, _ := store.Load()
	assert.Equal(t, Credentials{AccessToken: fresh, RefreshToken: "r9"}, stored)
}
