// Package metrics exposes Prometheus collectors for the executor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the executor's collectors. Collectors register on the
// given Registerer so tests and embedders can keep separate registries.
type Metrics struct {
	CallsTotal     *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	WorkersSpawned prometheus.Counter
	WorkersLost    prometheus.Counter
}

// New creates and registers the collectors. A nil reg uses the default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdkbridge_calls_total",
				Help: "Native calls executed, by target and response status",
			},
			[]string{"target", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sdkbridge_call_duration_seconds",
				Help:    "Round-trip duration of native calls",
				Buckets: prometheus.ExponentialBuckets(0.0001, 10, 7),
			},
			[]string{"target"},
		),
		WorkersSpawned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sdkbridge_workers_spawned_total",
				Help: "Worker processes spawned",
			},
		),
		WorkersLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sdkbridge_workers_lost_total",
				Help: "Worker processes that died or were discarded without a clean shutdown",
			},
		),
	}

	reg.MustRegister(m.CallsTotal, m.CallDuration, m.WorkersSpawned, m.WorkersLost)
	return m
}

// Observe records one completed call round-trip.
func (m *Metrics) Observe(target, status string, d time.Duration) {
	m.CallsTotal.WithLabelValues(target, status).Inc()
	m.CallDuration.WithLabelValues(target).Observe(d.Seconds())
}
