package middleware

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// reject writes the API error envelope for a request the middleware refuses
// and records the code for Logging. It mirrors api.WriteError, which cannot
// be imported from here.
func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	SetErrorCode(r.Context(), code)

	var body errorBody
	body.Error.Code = code
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode error response", "code", code, "error", err)
	}
}
