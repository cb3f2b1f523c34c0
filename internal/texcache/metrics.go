package texcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricCacheHits      = "panotour_texture_cache_hits_total"
	MetricCacheMisses    = "panotour_texture_cache_misses_total"
	MetricCacheEvictions = "panotour_texture_cache_evictions_total"
	MetricCacheEntries   = "panotour_texture_cache_entries"
)

// Metrics contains Prometheus metrics shared by every texture cache in the
// process. All operations are thread-safe and nil-safe.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	entries   prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheHits,
			Help: "Total number of texture cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheMisses,
			Help: "Total number of texture cache misses",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheEvictions,
			Help: "Total number of scenes evicted from texture caches",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCacheEntries,
			Help: "Entries held by the most recently updated texture cache",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.hits, m.misses, m.evictions, m.entries}
}

func (m *Metrics) incHits() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) incMisses() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) incEvictions() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) setSize(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
