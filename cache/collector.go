package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(Stats) float64
}

type collector struct {
	m       *Manager
	metrics []metricDesc
}

var _ prometheus.Collector = (*collector)(nil)

// NewCollector returns a prometheus.Collector that exports m's Stats on each
// scrape. Register it on a registry of your choosing.
func NewCollector(m *Manager, namespace string) prometheus.Collector {
	gauge := func(name, help string, value func(Stats) float64) metricDesc {
		return metricDesc{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil),
			valueType: prometheus.GaugeValue,
			value:     value,
		}
	}
	counter := func(name, help string, value func(Stats) float64) metricDesc {
		d := gauge(name, help, value)
		d.valueType = prometheus.CounterValue
		return d
	}
	return &collector{
		m: m,
		metrics: []metricDesc{
			gauge("entries", "Number of entries in the index", func(s Stats) float64 { return float64(s.Entries) }),
			gauge("memory_bytes", "Bytes held by memory-resident entries", func(s Stats) float64 { return float64(s.MemoryBytesUsed) }),
			gauge("memory_max_bytes", "Memory ceiling, zero when unlimited", func(s Stats) float64 { return float64(max(s.MaxMemoryBytes, 0)) }),
			gauge("disk_bytes", "Bytes held by record files", func(s Stats) float64 { return float64(s.DiskBytesUsed) }),
			gauge("disk_max_bytes", "Disk ceiling, zero when unlimited", func(s Stats) float64 { return float64(max(s.MaxDiskBytes, 0)) }),
			gauge("disk_tripped", "1 when disk writes are paused after repeated failures", func(s Stats) float64 { return boolFloat(s.DiskTripped) }),
			counter("memory_hits_total", "Lookups served from memory", func(s Stats) float64 { return float64(s.MemoryHits) }),
			counter("disk_hits_total", "Lookups served from disk", func(s Stats) float64 { return float64(s.DiskHits) }),
			counter("misses_total", "Lookups that found nothing", func(s Stats) float64 { return float64(s.Misses) }),
			counter("memory_evictions_total", "Entries evicted from memory", func(s Stats) float64 { return float64(s.MemoryEvictions) }),
			counter("disk_evictions_total", "Entries evicted from disk", func(s Stats) float64 { return float64(s.DiskEvictions) }),
			counter("expirations_total", "Entries removed after their TTL", func(s Stats) float64 { return float64(s.Expirations) }),
			counter("rejections_total", "Values that fit neither tier", func(s Stats) float64 { return float64(s.Rejections) }),
			counter("disk_write_failures_total", "Failed record writes", func(s Stats) float64 { return float64(s.DiskWriteFailures) }),
			counter("disk_read_failures_total", "Failed record reads", func(s Stats) float64 { return float64(s.DiskReadFailures) }),
			counter("disk_breaker_trips_total", "Times disk writes were paused after repeated failures", func(s Stats) float64 { return float64(s.DiskBreakerTrips) }),
		},
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(s))
	}
}
