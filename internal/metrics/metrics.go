package metrics

import (
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for admission decisions and their dependencies
type Metrics struct {
	Decisions          *prometheus.CounterVec
	LimiterLatency     *prometheus.HistogramVec
	BreakerState       prometheus.Gauge
	BreakerTransitions *prometheus.CounterVec
	AuditDropped       prometheus.Counter
	AuditWriteFailures prometheus.Counter
}

// Registers the collectors with reg. Pass prometheus.DefaultRegisterer in production
// and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimiter_decisions_total",
			Help: "Total number of admission decisions by algorithm and reason",
		}, []string{"algorithm", "reason"}),
		LimiterLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimiter_limiter_duration_seconds",
			Help:    "Time spent consulting the limiter, including the circuit breaker",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"algorithm"}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimiter_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimiter_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state changes by target state",
		}, []string{"to"}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimiter_audit_dropped_total",
			Help: "Total number of audit records dropped because the buffer was full",
		}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimiter_audit_write_failures_total",
			Help: "Total number of audit batches that could not be persisted",
		}),
	}
}

func (m *Metrics) ObserveDecision(algorithm, reason string, latency time.Duration) {
	m.Decisions.WithLabelValues(algorithm, reason).Inc()
	m.LimiterLatency.WithLabelValues(algorithm).Observe(latency.Seconds())
}

func (m *Metrics) ObserveBreakerTransition(_, to circuitbreaker.State) {
	m.BreakerState.Set(float64(to))
	m.BreakerTransitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) IncAuditDropped() {
	m.AuditDropped.Inc()
}

func (m *Metrics) IncAuditWriteFailures() {
	m.AuditWriteFailures.Inc()
}
