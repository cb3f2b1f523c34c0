package tracing

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		{
			name: "grpc exporter",
			cfg:  Config{ServiceName: "panotour-api", ExporterType: ExporterOTLPGRPC, SamplingRate: 0.25},
		},
		{
			name: "default exporter",
			cfg:  Config{ServiceName: "panotour-api", SamplingRate: 1},
		},
		{
			name:    "missing service name",
			cfg:     Config{SamplingRate: 0.5},
			wantErr: []string{"service name"},
		},
		{
			name:    "rate and exporter",
			cfg:     Config{ServiceName: "panotour-api", ExporterType: "jaeger", SamplingRate: 1.5},
			wantErr: []string{"sampling rate", "unsupported exporter type: jaeger"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		// Disabled providers skip validation entirely.
		p, err := NewProvider(Config{Enabled: false, SamplingRate: 7})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Enabled() {
			t.Error("disabled provider reports enabled")
		}
		if err := p.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := NewProvider(Config{Enabled: true, ServiceName: "panotour-api", ExporterType: "zipkin"}); err == nil {
			t.Error("expected an error for an unsupported exporter")
		}
	})

	for _, exporter := range []string{ExporterOTLPHTTP, ExporterOTLPGRPC} {
		t.Run(exporter, func(t *testing.T) {
			p, err := NewProvider(Config{
				ServiceName:  "panotour-api",
				Enabled:      true,
				Environment:  "test",
				ExporterType: exporter,
				OTLPEndpoint: "127.0.0.1:4318",
				SamplingRate: 0.1,
				InsecureMode: true,
			})
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			if !p.Enabled() {
				t.Error("provider should be enabled")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown: %v", err)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	for rate, want := range map[float64]string{
		0:    "AlwaysOffSampler",
		1:    "AlwaysOnSampler",
		0.25: "TraceIDRatioBased{0.25}",
	} {
		if got := sampler(rate).Description(); got != want {
			t.Errorf("sampler(%g) = %s, want %s", rate, got, want)
		}
	}
}
