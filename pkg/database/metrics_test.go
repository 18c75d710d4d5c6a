package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describeAll(c prometheus.Collector) []string {
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var out []string
	for d := range ch {
		out = append(out, d.String())
	}
	return out
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "review-service")
	descs := describeAll(c)

	require.Len(t, descs, 12)

	joined := ""
	for _, d := range descs {
		joined += d + "\n"
	}
	for _, name := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_max_connections",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_max_idle_destroy_total",
	} {
		assert.Contains(t, joined, name)
	}
}

func TestPoolStatsCollector_CollectNilPool(t *testing.T) {
	c := NewPoolStatsCollector(nil, "review-service")

	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)

	assert.Empty(t, ch)
}

func TestRegisterPoolMetrics_Duplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, nil, "review-service"))
	assert.Error(t, RegisterPoolMetrics(reg, nil, "review-service"))
}
