package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus metrics.
type Metrics struct {
	// RequestTotal counts gateway requests by action and response code.
	RequestTotal *prometheus.CounterVec
	// RequestDurationMs observes end-to-end request latency.
	RequestDurationMs *prometheus.HistogramVec
	// ActiveRunConflictTotal counts message appends rejected by an
	// in-flight run.
	ActiveRunConflictTotal prometheus.Counter
	// PollAttemptTotal counts run status queries issued by the fast poller.
	PollAttemptTotal prometheus.Counter
	// StreamEventTotal counts forwarded run-stream events by type.
	StreamEventTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assist_request_total",
			Help: "Total gateway requests by action and HTTP status.",
		}, []string{"action", "status"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assist_request_duration_ms",
			Help:    "Request duration in milliseconds, including remote calls.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"action"}),

		ActiveRunConflictTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "assist_active_run_conflict_total",
			Help: "Message appends rejected because the thread had an active run.",
		}),

		PollAttemptTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "assist_poll_attempt_total",
			Help: "Run status queries issued by the synchronous fast poller.",
		}),

		StreamEventTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assist_stream_event_total",
			Help: "Run-stream events forwarded to clients, by event type.",
		}, []string{"event"}),
	}
}
