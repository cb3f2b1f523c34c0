package main

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/panotour/internal/api"
	"github.com/onnwee/panotour/internal/middleware"
)

// serviceName identifies the service in traces and the root endpoint.
const serviceName = "panotour-api"

// routes holds everything the router dispatches to.
type routes struct {
	health    *api.HealthHandlers
	tours     *api.TourHandlers
	sessions  *api.SessionHandlers
	websocket *api.SessionWebSocketHandlers
	registry  *prometheus.Registry

	// Rate limiters applied per route group. Nil entries are skipped.
	tourLimit  func(http.Handler) http.Handler
	openLimit  func(http.Handler) http.Handler
	inputLimit func(http.Handler) http.Handler

	// idempotent replays retried session opens. Nil disables it.
	idempotent func(http.Handler) http.Handler
}

func limited(limit func(http.Handler) http.Handler, h http.Handler) http.Handler {
	if limit == nil {
		return h
	}
	return limit(h)
}

// newRouter builds the HTTP routes of the viewer service.
func newRouter(rt routes) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rt.health.Health)
	mux.HandleFunc("/ready", rt.health.Ready)
	if rt.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	getTour := limited(rt.tourLimit, http.HandlerFunc(rt.tours.GetTour))
	getWarnings := limited(rt.tourLimit, http.HandlerFunc(rt.tours.GetWarnings))
	openSession := limited(rt.openLimit, limited(rt.idempotent, http.HandlerFunc(rt.sessions.OpenSession)))
	mux.HandleFunc("/tours/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/warnings"):
			getWarnings.ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/sessions"):
			openSession.ServeHTTP(w, r)
		default:
			getTour.ServeHTTP(w, r)
		}
	})

	serveSession := limited(rt.inputLimit, http.HandlerFunc(rt.sessions.ServeSession))
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ws") {
			rt.websocket.Subscribe(w, r)
			return
		}
		serveSession.ServeHTTP(w, r)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"` + serviceName + `","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	return mux
}

// withMiddleware wraps the router in the request chain:
// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> router.
func withMiddleware(h http.Handler, logger *slog.Logger, metrics *middleware.Metrics, allowedOrigins []string) http.Handler {
	h = middleware.CORS(middleware.ViewerCORSConfig(allowedOrigins))(h)
	if metrics != nil {
		h = middleware.HTTPMetrics(metrics)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.Tracing(serviceName)(h)
	return middleware.RequestID(h)
}
