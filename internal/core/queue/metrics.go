package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the queue core the way the teacher's
// pkg/metrics.RetryMetrics instruments retry operations: counters and
// histograms registered against a private prometheus.Registry, not the
// global DefaultRegisterer. Prometheus exposition (the HTTP scrape
// endpoint) is out of scope per spec.md §1, so nothing in this repo wires
// Registry to an HTTP handler — but the instrumentation itself is real and
// an external exposition layer can be pointed at Registry later.
type Metrics struct {
	Registry *prometheus.Registry

	ReservationsTotal *prometheus.CounterVec
	CompletionsTotal  *prometheus.CounterVec
	ExpiredTotal      *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	BackoffSeconds    *prometheus.HistogramVec
}

// NewMetrics builds a fresh, privately-registered Metrics instance.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lobby_broker",
				Subsystem: "queue",
				Name:      "reservations_total",
				Help:      "Total reserve() calls by queue and outcome (hit, empty, unauthorized).",
			},
			[]string{"queue", "outcome"},
		),
		CompletionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lobby_broker",
				Subsystem: "queue",
				Name:      "completions_total",
				Help:      "Total complete() calls by queue and outcome (success, failure, retry, idempotent, gone).",
			},
			[]string{"queue", "outcome"},
		),
		ExpiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lobby_broker",
				Subsystem: "queue",
				Name:      "expired_total",
				Help:      "Total jobs moved by expire_sweep, by queue and resulting state.",
			},
			[]string{"queue", "result"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lobby_broker",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Pending job count by queue. The queue core registers this gauge but never sets it.",
			},
			[]string{"queue"},
		),
		BackoffSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lobby_broker",
				Subsystem: "queue",
				Name:      "backoff_seconds",
				Help:      "Computed backoff delay applied to a job re-queued after failure.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
			},
			[]string{"queue"},
		),
	}
}
