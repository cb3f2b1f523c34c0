package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricWSConnections  = "panotour_ws_connections"
	MetricWSMessagesSent = "panotour_ws_messages_sent_total"
	MetricWSSendFailures = "panotour_ws_send_failures_total"
)

// Metrics contains Prometheus metrics for viewer event streaming.
// All operations are thread-safe.
type Metrics struct {
	connections  prometheus.Gauge
	messagesSent prometheus.Counter
	sendFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricWSConnections,
			Help: "Number of open viewer event WebSocket connections",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWSMessagesSent,
			Help: "Total number of viewer events written to WebSocket clients",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWSSendFailures,
			Help: "Total number of failed viewer event writes",
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

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) incMessagesSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) incSendFailures() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connections,
		m.messagesSent,
		m.sendFailures,
	}
}
