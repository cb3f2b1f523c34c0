package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded under their own path.
var staticRoutes = map[string]bool{
	"/":        true,
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// sessionActions are the fixed trailing segments of /sessions/{id}/... routes.
var sessionActions = map[string]bool{
	"click": true,
	"orbit": true,
	"retry": true,
	"ws":    true,
}

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. This maps paths like /sessions/9f1c/click
// to /sessions/{id}/click.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) < 3 || parts[2] == "" {
		return path
	}

	switch parts[1] {
	case "tours":
		switch {
		case len(parts) == 3:
			return "/tours/{id}"
		case len(parts) == 4 && (parts[3] == "warnings" || parts[3] == "sessions"):
			return "/tours/{id}/" + parts[3]
		}
	case "sessions":
		switch {
		case len(parts) == 3:
			return "/sessions/{id}"
		case len(parts) == 4 && sessionActions[parts[3]]:
			return "/sessions/{id}/" + parts[3]
		case len(parts) == 5 && parts[3] == "audio" && parts[4] == "toggle":
			return "/sessions/{id}/audio/toggle"
		case len(parts) == 6 && parts[3] == "hotspots" && parts[5] == "activate":
			return "/sessions/{id}/hotspots/{index}/activate"
		case len(parts) == 6 && parts[3] == "scenes" && parts[5] == "hotspots":
			return "/sessions/{id}/scenes/{scene_id}/hotspots"
		}
	}

	// Unknown shapes under a dynamic prefix collapse to one label.
	if parts[1] == "tours" || parts[1] == "sessions" {
		return "/" + parts[1] + "/{other}"
	}
	return path
}

// isProbe reports the liveness and readiness endpoints, which stay out of
// request metrics and traces.
func isProbe(path string) bool {
	return path == "/health" || path == "/ready"
}

// HTTPMetrics observes latency, status and body sizes per normalized route.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			metrics.ObserveHTTPRequest(r.Method, normalizePath(r.URL.Path), strconv.Itoa(rw.statusCode),
				time.Since(start).Seconds(), max(r.ContentLength, 0), rw.size)
		})
	}
}
