package viewer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSessionsActive     = "panotour_viewer_sessions_active"
	MetricTransitions        = "panotour_viewer_transitions_total"
	MetricTransitionSeconds  = "panotour_viewer_transition_duration_seconds"
	MetricIgnoredInputs      = "panotour_viewer_ignored_inputs_total"
	MetricSessionsExpired    = "panotour_viewer_sessions_expired_total"
	TransitionOutcomeCommit  = "committed"
	TransitionOutcomeFailed  = "failed"
	TransitionOutcomeAborted = "aborted"
)

// Metrics contains Prometheus metrics for viewer sessions.
// All operations are thread-safe and nil-safe.
type Metrics struct {
	sessionsActive    prometheus.Gauge
	transitions       *prometheus.CounterVec
	transitionSeconds prometheus.Histogram
	ignoredInputs     prometheus.Counter
	sessionsExpired   prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSessionsActive,
			Help: "Number of open viewer sessions",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransitions,
			Help: "Total number of scene transitions by outcome",
		}, []string{"outcome"}),
		transitionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricTransitionSeconds,
			Help:    "Histogram of frame time from transition request to commit in seconds",
			Buckets: []float64{0.5, 1.0, 1.2, 1.5, 2.0, 3.0, 5.0, 10.0, 20.0},
		}),
		ignoredInputs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricIgnoredInputs,
			Help: "Total number of user inputs ignored because a transition was in flight",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsExpired,
			Help: "Total number of viewer sessions closed for inactivity",
		}),
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

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) observeTransition(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(outcome).Inc()
	if outcome == TransitionOutcomeCommit {
		m.transitionSeconds.Observe(seconds)
	}
}

func (m *Metrics) incIgnoredInputs() {
	if m == nil {
		return
	}
	m.ignoredInputs.Inc()
}

func (m *Metrics) incSessionsExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsActive,
		m.transitions,
		m.transitionSeconds,
		m.ignoredInputs,
		m.sessionsExpired,
	}
}
