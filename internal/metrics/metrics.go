// Package metrics exposes the auth server's Prometheus collector,
// re-themed from JeelKantaria-db-bouncer/internal/metrics/metrics.go's
// per-tenant DB proxy metrics to per-auth-phase metrics: active sessions
// by state, per-thread load, DB worker queue depth, admission rejections,
// protocol violations, and auth outcomes.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric the auth server emits, registered on its
// own registry so multiple instances (e.g. in tests) never collide.
type Collector struct {
	Registry *prometheus.Registry

	SessionsByState     *prometheus.GaugeVec
	ThreadLoad          *prometheus.GaugeVec
	DBQueueDepth        *prometheus.GaugeVec
	AdmissionRejections *prometheus.CounterVec
	ProtocolViolations  *prometheus.CounterVec
	AuthOutcomes        *prometheus.CounterVec
	DBRequestDuration   *prometheus.HistogramVec
}

// New creates and registers every metric on a fresh registry. Safe to call
// multiple times, e.g. once per test.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		SessionsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "necroauth_sessions_by_state",
				Help: "Number of active sessions currently in each SocketStatus",
			},
			[]string{"state"},
		),
		ThreadLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "necroauth_thread_load",
				Help: "Number of sockets owned by each network thread",
			},
			[]string{"thread"},
		),
		DBQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "necroauth_db_queue_depth",
				Help: "Number of requests waiting in the database worker's queues",
			},
			[]string{"queue"},
		),
		AdmissionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "necroauth_admission_rejections_total",
				Help: "Connections rejected before reaching a network thread",
			},
			[]string{"reason"},
		),
		ProtocolViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "necroauth_protocol_violations_total",
				Help: "Sessions closed due to a malformed or unexpected packet",
			},
			[]string{"reason"},
		),
		AuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "necroauth_auth_outcomes_total",
				Help: "Terminal outcomes of an authentication attempt",
			},
			[]string{"result"},
		),
		DBRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "necroauth_db_request_duration_seconds",
				Help:    "Time the database worker spent executing a request",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"query"},
		),
	}

	reg.MustRegister(
		c.SessionsByState,
		c.ThreadLoad,
		c.DBQueueDepth,
		c.AdmissionRejections,
		c.ProtocolViolations,
		c.AuthOutcomes,
		c.DBRequestDuration,
	)

	return c
}

// SetThreadLoad updates the load gauge for a single network thread.
func (c *Collector) SetThreadLoad(threadID int, load int) {
	c.ThreadLoad.WithLabelValues(strconv.Itoa(threadID)).Set(float64(load))
}

// SetSessionState moves a session's count from one state to another. An
// empty prev (a new session) only increments next; an empty next (a
// closed session) only decrements prev.
func (c *Collector) SetSessionState(prev, next string) {
	if prev != "" {
		c.SessionsByState.WithLabelValues(prev).Dec()
	}
	if next != "" {
		c.SessionsByState.WithLabelValues(next).Inc()
	}
}

// RecordAuthOutcome increments the outcome counter for a terminal auth
// result, e.g. "success", "wrong_password", "unknown_account".
func (c *Collector) RecordAuthOutcome(result string) {
	c.AuthOutcomes.WithLabelValues(result).Inc()
}

// RecordProtocolViolation increments the violation counter for reason.
func (c *Collector) RecordProtocolViolation(reason string) {
	c.ProtocolViolations.WithLabelValues(reason).Inc()
}

// ObserveDBRequestDuration records how long the database worker spent
// executing a request identified by query; time spent queued is not
// included.
func (c *Collector) ObserveDBRequestDuration(query string, d time.Duration) {
	c.DBRequestDuration.WithLabelValues(query).Observe(d.Seconds())
}
