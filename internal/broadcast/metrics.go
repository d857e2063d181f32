package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the broadcast orchestrator
type Metrics struct {
	Success          prometheus.Counter
	Failure          prometheus.Counter
	EarlyTermination prometheus.Counter
	Duration         prometheus.Histogram
}

// NewMetrics creates and registers the orchestrator metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Success: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_success_total",
			Help: "Broadcasts where a partner accepted the charging request",
		}),

		Failure: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_failure_total",
			Help: "Broadcasts where no partner accepted the charging request",
		}),

		EarlyTermination: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_early_termination_total",
			Help: "Broadcasts terminated early on first partner success",
		}),

		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "broadcast_duration_seconds",
			Help:    "End-to-end broadcast duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 4.0, 5.0, 6.0},
		}),
	}
}
