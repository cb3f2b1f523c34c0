package assets

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if len(m.Collectors()) != 3 {
		t.Errorf("expected 3 collectors, got %d", len(m.Collectors()))
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	m.ObserveLoad("cube", OutcomeNotFound, 0.2)
	m.IncSharedLoads()

	var metric dto.Metric
	if err := m.loads.WithLabelValues("cube", OutcomeNotFound).Write(&metric); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLoad("cube", OutcomeSuccess, 1)
	m.IncSharedLoads()
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{&NotFoundError{URL: "u"}, OutcomeNotFound},
		{&TimeoutError{SceneID: "s"}, OutcomeTimeout},
		{&ConfigParseError{SceneID: "s"}, OutcomeInvalid},
		{ErrClosed, OutcomeCancelled},
	}
	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
