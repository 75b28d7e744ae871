package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics published by the subsystem. A nil
// *Metrics is valid and records nothing, so tools can hold one
// unconditionally.
type Metrics struct {
	// Mutation metrics
	MutationsTotal *prometheus.CounterVec

	// Identity/tree cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Session invalidation metrics
	InvalidationsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgraph_mutations_total",
				Help: "Total hierarchy mutations by entity, operation and outcome",
			},
			[]string{"entity", "operation", "outcome"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgraph_cache_hits_total",
				Help: "Total identity cache hits by cache",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgraph_cache_misses_total",
				Help: "Total identity cache misses by cache",
			},
			[]string{"cache"},
		),
		InvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authgraph_session_invalidations_total",
				Help: "Total session invalidation passes issued",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.MutationsTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.InvalidationsTotal,
		)
	}

	return m
}

// RecordMutation counts one mutation attempt.
func (m *Metrics) RecordMutation(entity, operation string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.MutationsTotal.WithLabelValues(entity, operation, outcome).Inc()
}

// RecordCacheLookup counts one cache lookup.
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordInvalidation counts one session invalidation pass.
func (m *Metrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.InvalidationsTotal.Inc()
}
