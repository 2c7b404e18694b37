package cache

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	h := newHarness(t, WithMaxMemoryBytes(0))
	h.m.Set("a", "1", 0)
	h.m.Get("a", nil)
	h.m.Get("a", nil)
	h.m.Get("missing", nil)

	c := NewCollector(h.m, "tiercache")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 16, testutil.CollectAndCount(c))

	expected := `
# HELP tiercache_cache_memory_hits_total Lookups served from memory
# TYPE tiercache_cache_memory_hits_total counter
tiercache_cache_memory_hits_total 2
# HELP tiercache_cache_misses_total Lookups that found nothing
# TYPE tiercache_cache_misses_total counter
tiercache_cache_misses_total 1
# HELP tiercache_cache_entries Number of entries in the index
# TYPE tiercache_cache_entries gauge
tiercache_cache_entries 1
# HELP tiercache_cache_memory_max_bytes Memory ceiling, zero when unlimited
# TYPE tiercache_cache_memory_max_bytes gauge
tiercache_cache_memory_max_bytes 0
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"tiercache_cache_memory_hits_total",
		"tiercache_cache_misses_total",
		"tiercache_cache_entries",
		"tiercache_cache_memory_max_bytes",
	))
}
