package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wires the engine's counters/histograms/gauges. The engine records
// allowed and denied totals and decision latency on every call; the breaker
// state gauge and the dropped-audit-events counter are updated only when a
// caller invokes RecordBreakerState or RecordAuditDropped.
type Metrics struct {
	allowed      *prometheus.CounterVec
	denied       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	auditDropped prometheus.Counter
}

// NewMetrics registers the engine's metrics on reg and returns a Metrics
// ready to pass to WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_allowed_total",
			Help: "Total number of allowed rate limit decisions.",
		}, []string{"limiter"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Total number of denied rate limit decisions.",
		}, []string{"limiter"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rate_limit_decision_latency_seconds",
			Help:    "Latency of a single try_acquire decision.",
			Buckets: prometheus.DefBuckets,
		}, []string{"limiter"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_breaker_state",
			Help: "Circuit breaker state per limiter (0=closed, 1=open, 2=half_open).",
		}, []string{"limiter"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_audit_dropped_total",
			Help: "Total number of audit events dropped due to a full queue.",
		}),
	}
	reg.MustRegister(m.allowed, m.denied, m.latency, m.breakerState, m.auditDropped)
	return m
}

func (m *Metrics) RecordBreakerState(limiter string, state int) {
	m.breakerState.WithLabelValues(limiter).Set(float64(state))
}

func (m *Metrics) RecordAuditDropped() {
	m.auditDropped.Inc()
}

func (m *Metrics) RecordDecision(limiter string, allowed bool) {
	if allowed {
		m.allowed.WithLabelValues(limiter).Inc()
	} else {
		m.denied.WithLabelValues(limiter).Inc()
	}
}

func (m *Metrics) ObserveLatency(limiter string, d time.Duration) {
	m.latency.WithLabelValues(limiter).Observe(d.Seconds())
}
