package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tracing starts a server span per request, continuing any W3C trace context
// the caller sent. Spans are named by route ("POST /sessions/{id}/click") and
// probes and scrapes are skipped. Place it before Logging so request log
// lines carry the trace id.
func Tracing(serviceName string, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + normalizePath(r.URL.Path)
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isProbe(r.URL.Path) && r.URL.Path != "/metrics"
		}),
	}, opts...)

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, opts...)
	}
}
