package partnerclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for outbound partner requests
type Metrics struct {
	Success            *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	Timeouts           *prometheus.CounterVec
	Duration           *prometheus.HistogramVec
	CircuitBreakerOpen *prometheus.CounterVec
	BreakerSuccess     *prometheus.CounterVec
	BreakerFailure     *prometheus.CounterVec
}

// NewMetrics creates and registers the partner client metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Success: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partner_http_success_total",
				Help: "Partner requests whose extracted status matched the success pattern",
			},
			[]string{"partner_id"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partner_http_errors_total",
				Help: "Partner requests that failed or were rejected by the partner",
			},
			[]string{"partner_id"},
		),

		Timeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partner_http_timeouts_total",
				Help: "Partner requests that hit the per-call deadline",
			},
			[]string{"partner_id"},
		),

		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "partner_http_request_duration_seconds",
				Help:    "Outbound partner request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"partner_id"},
		),

		CircuitBreakerOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partner_circuitbreaker_open_total",
				Help: "Calls rejected fast because the partner breaker was open",
			},
			[]string{"partner_id"},
		),

		BreakerSuccess: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partner_circuitbreaker_success_total",
				Help: "Call outcomes reported to the breaker as success",
			},
			[]string{"partner_id"},
		),

		BreakerFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partner_circuitbreaker_failure_total",
				Help: "Call outcomes reported to the breaker as failure",
			},
			[]string{"partner_id"},
		),
	}
}
