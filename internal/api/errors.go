// Package api holds the HTTP handlers of the viewer service and the JSON
// error envelope they share.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/viewer"
)

// Error codes returned in the error envelope.
const (
	ErrCodeValidation          = "validation_error"
	ErrCodeNotFound            = "not_found"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeInternal            = "internal_error"
	ErrCodeConflict            = "conflict"
	ErrCodeBadRequest          = "bad_request"
	ErrCodeTourNotFound        = "tour_not_found"       // the Project API has no such tour
	ErrCodeSessionNotFound     = "session_not_found"    // unknown, closed or expired viewer session
	ErrCodeSceneUnavailable    = "scene_unavailable"    // hotspot target or scene id does not resolve
	ErrCodeTransitionInFlight  = "transition_in_flight" // input arrived while a transition runs
	ErrCodeTimeout             = "timeout"              // a scene or tour load ran out of time
	ErrCodeUpstreamUnavailable = "upstream_unavailable" // the Project API failed or sent garbage
)

var codeStatus = map[string]int{
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodeBadRequest:          http.StatusBadRequest,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeTourNotFound:        http.StatusNotFound,
	ErrCodeSessionNotFound:     http.StatusNotFound,
	ErrCodeRateLimited:         http.StatusTooManyRequests,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeTransitionInFlight:  http.StatusConflict,
	ErrCodeSceneUnavailable:    http.StatusUnprocessableEntity,
	ErrCodeTimeout:             http.StatusGatewayTimeout,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,
	ErrCodeInternal:            http.StatusInternalServerError,
}

// ErrorResponse is the envelope of every API error:
//
//	{"error": {"code": "session_not_found", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the code and human-readable message of an ErrorResponse.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the error envelope with status and records code for the
// request log.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.SetErrorCode(ctx, code)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	resp := ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "code", code, "error", err)
	}
}

// StatusCodeMapping returns the HTTP status for an error code. Unknown codes
// map to 500.
func StatusCodeMapping(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v as a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// ErrorCodeFor maps tour, viewer and asset errors onto an API error code.
func ErrorCodeFor(err error) string {
	switch {
	case errors.Is(err, tour.ErrTourNotFound):
		return ErrCodeTourNotFound
	case errors.Is(err, tour.ErrProjectUnavailable), errors.Is(err, tour.ErrMalformedTour):
		return ErrCodeUpstreamUnavailable
	case errors.Is(err, viewer.ErrSessionNotFound), errors.Is(err, viewer.ErrClosed):
		return ErrCodeSessionNotFound
	case errors.Is(err, viewer.ErrSceneUnavailable), errors.Is(err, tour.ErrSceneNotFound):
		return ErrCodeSceneUnavailable
	case errors.Is(err, viewer.ErrTransitionInFlight):
		return ErrCodeTransitionInFlight
	case errors.Is(err, viewer.ErrNotReady), errors.Is(err, viewer.ErrNothingToRetry):
		return ErrCodeConflict
	case errors.Is(err, viewer.ErrHotspotIndex):
		return ErrCodeValidation
	case errors.Is(err, viewer.ErrTooManySessions):
		return ErrCodeRateLimited
	case errors.Is(err, assets.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, assets.ErrNotFound):
		return ErrCodeNotFound
	}
	return ErrCodeInternal
}

// writeDomainError writes err using the code ErrorCodeFor picks. Internal
// errors are logged and their message is not exposed.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrorCodeFor(err)
	ctx := middleware.SetErrorCode(r.Context(), code)
	msg := err.Error()
	if code == ErrCodeInternal {
		slog.ErrorContext(ctx, "request failed", "error", err, "path", r.URL.Path)
		msg = "Internal server error"
	}
	WriteError(w, ctx, StatusCodeMapping(code), code, msg)
}
