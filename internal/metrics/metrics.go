// Package metrics exposes capture and prediction counters on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	DuplicatesTotal    prometheus.Counter
	PredictionsTotal   *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
	ActiveLoops        prometheus.Gauge
}

// New registers the collectors on reg and returns the handle the capture
// loop records into.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "candlesight",
			Name:      "capture_cycles_total",
			Help:      "Capture cycles by outcome.",
		}, []string{"outcome"}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "candlesight",
			Name:      "duplicate_observations_total",
			Help:      "Observations dropped by the dedupe window.",
		}),
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "candlesight",
			Name:      "predictions_total",
			Help:      "Predictions emitted by algorithm.",
		}, []string{"algorithm"}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "candlesight",
			Name:      "verifications_total",
			Help:      "Graded predictions by correctness.",
		}, []string{"correct"}),
		ActiveLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "candlesight",
			Name:      "active_capture_loops",
			Help:      "Currently running capture loops.",
		}),
	}
	reg.MustRegister(m.CyclesTotal, m.DuplicatesTotal, m.PredictionsTotal, m.VerificationsTotal, m.ActiveLoops)
	return m
}

// NewUnregistered returns a handle backed by a throwaway registry, for tests
// and for callers that run without a metrics endpoint.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
