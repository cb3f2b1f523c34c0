// Package middleware provides HTTP middleware components for the viewer API server.
package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// sessionIDKey is the context key for the viewer session id.
type sessionIDKey struct{}

// errorCodeKey is the context key for error code.
type errorCodeKey struct{}

// requestMetaKey is the context key for the per-request annotations that
// handlers report back to Logging.
type requestMetaKey struct{}

// requestMeta lets handlers annotate the request log entry without having to
// replace the request the middleware holds.
type requestMeta struct {
	mu        sync.Mutex
	sessionID string
	errorCode string
}

func metaFrom(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(*requestMeta)
	return m
}

// SetSessionID stores the viewer session id the request acts on.
func SetSessionID(ctx context.Context, id string) context.Context {
	if m := metaFrom(ctx); m != nil {
		m.mu.Lock()
		m.sessionID = id
		m.mu.Unlock()
	}
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// GetSessionID retrieves the viewer session id from context. Returns empty string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	if m := metaFrom(ctx); m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.sessionID
	}
	return ""
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if m := metaFrom(ctx); m != nil {
		m.mu.Lock()
		m.errorCode = code
		m.mu.Unlock()
	}
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	if m := metaFrom(ctx); m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.errorCode
	}
	return ""
}

// NewLogger returns a JSON logger at info level for production and a text
// logger at debug level otherwise. Both write to stdout.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// levelFor maps a response status to the request log level.
func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Logging writes one "request completed" entry per request with method,
// path, status, latency_ms and size, plus request_id, trace_id and
// session_id when known. Failed responses also carry the error_code a handler recorded with
// SetErrorCode. Nothing is logged for a request whose handler panics.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := context.WithValue(r.Context(), requestMetaKey{}, &requestMeta{})
			r = r.WithContext(ctx)
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			attrs := make([]slog.Attr, 0, 8)
			attrs = append(attrs,
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int64("size", rw.size),
			)
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
			}
			if id := GetSessionID(ctx); id != "" {
				attrs = append(attrs, slog.String("session_id", id))
			}
			if code := GetErrorCode(ctx); code != "" && rw.statusCode >= 400 {
				attrs = append(attrs, slog.String("error_code", code))
			}

			logger.LogAttrs(ctx, levelFor(rw.statusCode), "request completed", attrs...)
		})
	}
}
