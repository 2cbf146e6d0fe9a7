package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the triage pipeline instrumentation.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	StepDuration   *prometheus.HistogramVec
	RetriesTotal   *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	Subscribers    prometheus.GaugeFunc
}

// NewMetrics registers the triage collectors on reg. registry may be nil,
// in which case the subscriber gauge reports zero.
func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_runs_total",
			Help: "Completed triage runs by terminal status and risk level.",
		}, []string{"status", "risk"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_run_duration_seconds",
			Help:    "End-to-end triage run duration.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_step_duration_seconds",
			Help:    "Per-step pipeline duration.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"step", "ok"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_retries_total",
			Help: "Step retry attempts.",
		}, []string{"step"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_fallbacks_total",
			Help: "Steps substituted by their degraded fallback.",
		}, []string{"step"}),
		Subscribers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sift_triage_stream_subscribers",
			Help: "Active run stream subscribers.",
		}, func() float64 {
			if registry == nil {
				return 0
			}
			return float64(registry.Subscribers())
		}),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StepDuration,
		m.RetriesTotal,
		m.FallbacksTotal,
		m.Subscribers,
	)
	return m
}

// Hooks adapts the metrics into engine instrumentation callbacks.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnStep: func(name string, ok bool, seconds float64) {
			okLabel := "false"
			if ok {
				okLabel = "true"
			}
			m.StepDuration.WithLabelValues(name, okLabel).Observe(seconds)
		},
		OnRetry:    func(step string) { m.RetriesTotal.WithLabelValues(step).Inc() },
		OnFallback: func(step string) { m.FallbacksTotal.WithLabelValues(step).Inc() },
	}
}
