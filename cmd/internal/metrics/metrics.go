// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the lifecycle layer reports to.
type Recorder interface {
	RecordLogin(method, outcome string)
	RecordRefresh(outcome string)
	RecordReuseDetected()
	RecordSessionsRevoked(reason string, n int)
	RecordOneTime(kind, action, outcome string)
	RecordSweep(refreshTokens, oneTimeTokens, sessions int64, took time.Duration)
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	reuseDetected   prometheus.Counter
	sessionsRevoked *prometheus.CounterVec
	oneTime         *prometheus.CounterVec
	sweptRows       *prometheus.CounterVec
	sweepLatency    prometheus.Histogram
}

// NewCollector builds a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_auth_logins_total",
			Help: "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_auth_refresh_total",
			Help: "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_auth_refresh_reuse_detected_total",
			Help: "Rotated refresh tokens presented again.",
		}),
		sessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_auth_sessions_revoked_total",
			Help: "Sessions revoked by reason.",
		}, []string{"reason"}),
		oneTime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_auth_onetime_tokens_total",
			Help: "One-time token issuance and redemption by kind and outcome.",
		}, []string{"kind", "action", "outcome"}),
		sweptRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_sweep_rows_total",
			Help: "Rows soft-deleted by the expiry sweep.",
		}, []string{"table"}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_sweep_duration_seconds",
			Help:    "Expiry sweep duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.refreshes,
		c.reuseDetected,
		c.sessionsRevoked,
		c.oneTime,
		c.sweptRows,
		c.sweepLatency,
	)
	return c
}

func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordReuseDetected() {
	c.reuseDetected.Inc()
}

func (c *Collector) RecordSessionsRevoked(reason string, n int) {
	if n <= 0 {
		return
	}
	c.sessionsRevoked.WithLabelValues(reason).Add(float64(n))
}

func (c *Collector) RecordOneTime(kind, action, outcome string) {
	c.oneTime.WithLabelValues(kind, action, outcome).Inc()
}

func (c *Collector) RecordSweep(refreshTokens, oneTimeTokens, sessions int64, took time.Duration) {
	c.sweptRows.WithLabelValues("refresh_tokens").Add(float64(refreshTokens))
	c.sweptRows.WithLabelValues("onetime_tokens").Add(float64(oneTimeTokens))
	c.sweptRows.WithLabelValues("sessions").Add(float64(sessions))
	c.sweepLatency.Observe(took.Seconds())
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordLogin(string, string)                     {}
func (Nop) RecordRefresh(string)                           {}
func (Nop) RecordReuseDetected()                           {}
func (Nop) RecordSessionsRevoked(string, int)              {}
func (Nop) RecordOneTime(string, string, string)           {}
func (Nop) RecordSweep(int64, int64, int64, time.Duration) {}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
