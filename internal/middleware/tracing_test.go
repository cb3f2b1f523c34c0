package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func tracedHandler(t *testing.T, next http.Handler) (http.Handler, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	h := Tracing("panotour-api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(propagation.TraceContext{}),
	)(next)
	return h, rec
}

func TestTracing_SpanNames(t *testing.T) {
	h, rec := tracedHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	requests := []struct{ method, path, want string }{
		{http.MethodGet, "/tours/42", "GET /tours/{id}"},
		{http.MethodPost, "/tours/42/sessions", "POST /tours/{id}/sessions"},
		{http.MethodPost, "/sessions/9f1c/click", "POST /sessions/{id}/click"},
		{http.MethodPut, "/sessions/9f1c/scenes/lobby/hotspots", "PUT /sessions/{id}/scenes/{scene_id}/hotspots"},
		{http.MethodDelete, "/sessions/9f1c", "DELETE /sessions/{id}"},
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/ready", ""},
		{http.MethodGet, "/metrics", ""},
	}
	var want []string
	for _, r := range requests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
		if r.want != "" {
			want = append(want, r.want)
		}
	}

	spans := rec.Ended()
	if len(spans) != len(want) {
		t.Fatalf("ended %d spans, want %d (probes and scrapes skipped)", len(spans), len(want))
	}
	for i, span := range spans {
		if span.Name() != want[i] {
			t.Errorf("span %d = %q, want %q", i, span.Name(), want[i])
		}
	}
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	var got trace.SpanContext
	h, rec := tracedHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/sessions/9f1c/orbit", nil)
	req.Header.Set("traceparent", parent)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want the caller's", got.TraceID())
	}
	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Parent().SpanID().String() != "00f067aa0ba902b7" {
		t.Fatalf("server span does not continue the caller's span: %v", spans)
	}
	if spans[0].SpanContext().SpanID() != got.SpanID() {
		t.Error("handler context does not carry the server span")
	}
}

func TestTracing_LogsTraceID(t *testing.T) {
	var buf bytes.Buffer
	h, rec := tracedHandler(t, Logging(newLogger(&buf, "production"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sessions/9f1c/retry", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended %d spans, want 1", len(spans))
	}
	want := `"trace_id":"` + spans[0].SpanContext().TraceID().String() + `"`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("log line %q missing %s", buf.String(), want)
	}
}
