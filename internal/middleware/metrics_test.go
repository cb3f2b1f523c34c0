package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("second Register() should report a duplicate collector")
	}
	if got := len(m.Collectors()); got != 7 {
		t.Errorf("Collectors() returned %d collectors, want 7", got)
	}
}

func TestMetrics_RateLimitCounters(t *testing.T) {
	m := NewMetrics()

	m.IncRateLimitRequests("/sessions/{id}/click", "session")
	m.IncRateLimitRequests("/sessions/{id}/click", "session")
	m.IncRateLimitRequests("/tours/{id}/sessions", "ip")
	m.IncRateLimitBlocked("/sessions/{id}/click", "session")
	m.IncRateLimitRedisErrors()

	if got := testutil.CollectAndCount(m.rateLimitRequests); got != 2 {
		t.Errorf("requests series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.rateLimitRequests.WithLabelValues("/sessions/{id}/click", "session")); got != 2 {
		t.Errorf("click checks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rateLimitBlocked.WithLabelValues("/sessions/{id}/click", "session")); got != 1 {
		t.Errorf("click blocks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rateLimitRedisErrors); got != 1 {
		t.Errorf("redis errors = %v, want 1", got)
	}
}
