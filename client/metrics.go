package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for session operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Refreshes          *prometheus.CounterVec
	RefreshDurationMs  prometheus.Histogram
	Bootstraps         *prometheus.CounterVec
	SessionClears      *prometheus.CounterVec
	NextRefreshSeconds prometheus.Gauge
}

// NewMetrics registers session collectors with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_session_refreshes_total",
			Help: "Refresh exchanges by result",
		}, []string{"result"}),
		RefreshDurationMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_session_refresh_duration_ms",
			Help:    "Duration of refresh exchanges in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		Bootstraps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_session_bootstraps_total",
			Help: "Bootstrap outcomes",
		}, []string{"outcome"}),
		SessionClears: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_session_clears_total",
			Help: "Session clears by reason",
		}, []string{"reason"}),
		NextRefreshSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "portal_session_next_refresh_seconds",
			Help: "Delay of the currently armed proactive refresh, 0 when none is armed",
		}),
	}
}

func (m *Metrics) observeRefresh(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	m.Refreshes.WithLabelValues(result).Inc()
	m.RefreshDurationMs.Observe(float64(took.Milliseconds()))
}

func (m *Metrics) observeBootstrap(outcome string) {
	if m == nil {
		return
	}
	m.Bootstraps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeClear(reason string) {
	if m == nil {
		return
	}
	m.SessionClears.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeSchedule(delay time.Duration) {
	if m == nil {
		return
	}
	m.NextRefreshSeconds.Set(delay.Seconds())
}
