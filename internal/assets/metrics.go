package assets

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricAssetLoads       = "panotour_asset_loads_total"
	MetricAssetSharedLoads = "panotour_asset_shared_loads_total"
	MetricAssetLoadSeconds = "panotour_asset_load_duration_seconds"
)

// Load outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeTimeout   = "timeout"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics contains Prometheus metrics for the asset loader.
// All operations are thread-safe.
type Metrics struct {
	loads       *prometheus.CounterVec
	sharedLoads prometheus.Counter
	loadSeconds *prometheus.HistogramVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAssetLoads,
			Help: "Total number of scene asset loads by asset kind and outcome",
		}, []string{"kind", "outcome"}),
		sharedLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAssetSharedLoads,
			Help: "Total number of load requests that joined an in-flight load of the same scene asset",
		}),
		loadSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricAssetLoadSeconds,
			Help:    "Histogram of scene asset load latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 15.0, 30.0},
		}, []string{"kind"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveLoad records one completed load.
func (m *Metrics) ObserveLoad(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(kind, outcome).Inc()
	m.loadSeconds.WithLabelValues(kind).Observe(seconds)
}

// IncSharedLoads counts a caller that joined an in-flight load.
func (m *Metrics) IncSharedLoads() {
	if m == nil {
		return
	}
	m.sharedLoads.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.loads,
		m.sharedLoads,
		m.loadSeconds,
	}
}
