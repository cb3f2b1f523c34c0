package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exported by the request middleware.
const (
	MetricRateLimitRequests     = "panotour_rate_limit_requests_total"
	MetricRateLimitBlocked      = "panotour_rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "panotour_rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "panotour_http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "panotour_http_requests_total"
	MetricHTTPRequestSizeBytes  = "panotour_http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "panotour_http_response_size_bytes"
)

var (
	limitLabels   = []string{"endpoint", "key_type"}
	requestLabels = []string{"method", "path", "status"}

	// Session input is small JSON; frame and texture responses reach megabytes.
	sizeBuckets = prometheus.ExponentialBuckets(64, 4, 10)
)

// Metrics holds the rate limit and HTTP request collectors. Safe for
// concurrent use.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitRequests,
			Help: "Rate limit checks by route and key type",
		}, limitLabels),
		rateLimitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitBlocked,
			Help: "Requests rejected with 429 by route and key type",
		}, limitLabels),
		rateLimitRedisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Redis failures during rate limiting; each one let the request through",
		}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: MetricHTTPRequestDuration,
			Help: "HTTP request latency in seconds",
			// Input round trips sit in the low milliseconds; session opens
			// include a tour fetch and a first scene decode.
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, requestLabels),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests by method, route and status",
		}, requestLabels),
		httpRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "Declared HTTP request body size in bytes",
			Buckets: sizeBuckets,
		}, requestLabels),
		httpResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "HTTP response body size in bytes",
			Buckets: sizeBuckets,
		}, requestLabels),
	}
}

// Collectors returns every collector in registration order.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}

// Register adds all collectors to reg, stopping at the first failure.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts a rate limit check on endpoint ("/sessions/{id}/click").
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked counts a rejected request.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors counts a fail-open event.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// ObserveHTTPRequest records one finished request. path must already be
// normalized to its route pattern.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	values := []string{method, path, status}
	m.httpRequestDuration.WithLabelValues(values...).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(values...).Inc()
	m.httpRequestSize.WithLabelValues(values...).Observe(float64(requestSize))
	m.httpResponseSize.WithLabelValues(values...).Observe(float64(responseSize))
}
