package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds one readiness probe across all dependencies.
const readyTimeout = 5 * time.Second

// HealthChecker is a dependency the readiness probe can ping.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NamedChecker pairs a checker with the key it reports under. A nil Checker
// is an unconfigured dependency and always reports "ok".
type NamedChecker struct {
	Name    string
	Checker HealthChecker
}

// HealthHandlersConfig configures HealthHandlers.
type HealthHandlersConfig struct {
	Checkers       []NamedChecker
	MetricsEnabled bool
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checkers       []NamedChecker
	metricsEnabled bool
}

// NewHealthHandlers creates the probe handlers.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{checkers: config.Checkers, metricsEnabled: config.MetricsEnabled}
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func writeHealth(w http.ResponseWriter, r *http.Request, healthy bool, checks map[string]string) {
	resp := HealthResponse{
		Status:    "healthy",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, r.Context(), status, resp)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	return false
}

// Health handles GET /health. It answers 200 while the process can serve.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeHealth(w, r, true, map[string]string{"runtime": "ok"})
}

// Ready handles GET /ready. Dependencies are checked in parallel; any
// failure answers 503.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, nc := range h.checkers {
		if nc.Checker == nil {
			continue
		}
		g.Go(func() error {
			results[i] = nc.Checker.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]string, len(h.checkers)+1)
	healthy := true
	for i, nc := range h.checkers {
		if err := results[i]; err != nil {
			checks[nc.Name] = "error"
			healthy = false
			slog.WarnContext(ctx, "health check failed", "check", nc.Name, "error", err)
			continue
		}
		checks[nc.Name] = "ok"
	}
	if h.metricsEnabled {
		checks["metrics"] = "ok"
	}

	writeHealth(w, r, healthy, checks)
}
