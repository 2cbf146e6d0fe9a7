package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the rate limiter.
type Metrics struct {
	AllowedTotal  prometheus.Counter
	RejectedTotal prometheus.Counter
	FailOpenTotal prometheus.Counter
}

// NewMetrics registers and returns rate limiter metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AllowedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_ratelimit_allowed_total",
			Help: "Requests admitted by the rate limiter.",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_ratelimit_rejected_total",
			Help: "Requests rejected with 429 by the rate limiter.",
		}),
		FailOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_ratelimit_failopen_total",
			Help: "Requests admitted because the coordination store was unreachable.",
		}),
	}

	reg.MustRegister(
		m.AllowedTotal,
		m.RejectedTotal,
		m.FailOpenTotal,
	)

	return m
}
