package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/panotour/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayedHeader marks a response served from a stored record or
// shared with a concurrent request carrying the same key.
const IdempotentReplayedHeader = "Idempotent-Replayed"

// captureWriter buffers a handler's response so it can be stored and replayed.
type captureWriter struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
	written    bool
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header), statusCode: http.StatusOK}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(statusCode int) {
	if c.written {
		return
	}
	c.statusCode = statusCode
	c.written = true
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.written = true
	return c.body.Write(b)
}

// Idempotency replays the stored response of a POST that repeats an
// Idempotency-Key on the same path. Requests without the header pass through.
// Concurrent requests with the same key run the handler once. Only 2xx
// responses are stored.
func Idempotency(repo idempotency.Repository) func(http.Handler) http.Handler {
	var group singleflight.Group

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				code, message := "invalid_idempotency_key", "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds maximum length of " + strconv.Itoa(idempotency.MaxKeyLength) + " characters"
				}
				reject(w, r, http.StatusBadRequest, code, message)
				return
			}

			ctx := r.Context()
			route := r.URL.Path
			if record, err := repo.Get(ctx, route, key); err == nil {
				slog.InfoContext(ctx, "idempotency key found, returning stored response",
					"key", key,
					"status", record.StatusCode,
				)
				replay(w, record, true)
				return
			} else if !errors.Is(err, idempotency.ErrKeyNotFound) {
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			v, _, shared := group.Do(route+"\x00"+key, func() (any, error) {
				// A request that finished between Get and Do already stored its record.
				if record, err := repo.Get(ctx, route, key); err == nil {
					return record, nil
				}
				cw := newCaptureWriter()
				next.ServeHTTP(cw, r)
				record := &idempotency.Record{
					Key:          key,
					Method:       r.Method,
					Route:        route,
					StatusCode:   cw.statusCode,
					ContentType:  cw.header.Get("Content-Type"),
					Location:     cw.header.Get("Location"),
					Body:         cw.body.String(),
					ResponseHash: idempotency.ComputeResponseHash(cw.body.String()),
				}
				if record.StatusCode >= 200 && record.StatusCode < 300 {
					storeRecord(ctx, repo, record)
				}
				return record, nil
			})
			replay(w, v.(*idempotency.Record), shared)
		})
	}
}

func storeRecord(ctx context.Context, repo idempotency.Repository, record *idempotency.Record) {
	err := repo.Store(ctx, record)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "stored idempotency key", "key", record.Key, "status", record.StatusCode)
	case errors.Is(err, idempotency.ErrKeyExists):
	default:
		slog.ErrorContext(ctx, "failed to store idempotency key", "key", record.Key, "error", err)
	}
}

func replay(w http.ResponseWriter, record *idempotency.Record, replayed bool) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	if record.Location != "" {
		w.Header().Set("Location", record.Location)
	}
	if replayed {
		w.Header().Set(IdempotentReplayedHeader, "true")
	}
	w.WriteHeader(record.StatusCode)
	_, _ = io.WriteString(w, record.Body)
}
