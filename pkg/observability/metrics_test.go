package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordMutation("role", "add", true)
	m.RecordMutation("role", "add", false)
	m.RecordMutation("group", "remove", true)
	m.RecordCacheLookup("users", true)
	m.RecordCacheLookup("users", false)
	m.RecordInvalidation()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues("role", "add", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues("role", "add", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues("group", "remove", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("users")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("users")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvalidationsTotal))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	// Tools hold a possibly-nil *Metrics unconditionally.
	m.RecordMutation("role", "add", true)
	m.RecordCacheLookup("roles", false)
	m.RecordInvalidation()
}

func TestNewMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordMutation("user", "add", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues("user", "add", "success")))
}
