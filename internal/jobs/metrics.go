// Package jobs runs the service's periodic background work and records
// metrics for each run.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricBackgroundJobsTotal      = "panotour_background_jobs_total"
	MetricBackgroundJobsDuration   = "panotour_background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "panotour_background_job_errors_total"
)

// Job types, used as the job_type label.
const (
	JobTypeSessionSweep       = "session_sweep"       // close idle viewer sessions
	JobTypeRateLimitCleanup   = "rate_limit_cleanup"  // drop expired in-memory windows
	JobTypeIdempotencyCleanup = "idempotency_cleanup" // drop expired in-memory records
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Reporter records job outcomes. *Metrics implements it.
type Reporter interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// Metrics is the Prometheus Reporter.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobsTotal,
			Help: "Background job runs by type and outcome",
		}, []string{"job_type", "status"}),
		// Sweeps walk an in-memory map; anything past a second is a stall.
		jobsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBackgroundJobsDuration,
			Help:    "Background job run time in seconds",
			Buckets: prometheus.ExponentialBucketsRange(0.0005, 5, 9),
		}, []string{"job_type"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobErrorsTotal,
			Help: "Failed background job runs by type and cause",
		}, []string{"job_type", "error_type"}),
	}
}

// Collectors returns the job collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors counts a failure; errorType is "timeout", "canceled" or "error".
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}
