package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/tour"
)

// TourHandlers serves tour documents and their validation warnings.
type TourHandlers struct {
	source tour.Source
}

// NewTourHandlers creates tour handlers reading from source.
func NewTourHandlers(source tour.Source) *TourHandlers {
	return &TourHandlers{source: source}
}

// TourResponse is a tour as the viewer sees it.
type TourResponse struct {
	Tour         *tour.Tour `json:"tour"`
	FirstSceneID string     `json:"first_scene_id,omitempty"`
}

// WarningsResponse lists the data-quality warnings of a tour.
type WarningsResponse struct {
	TourID   string         `json:"tour_id"`
	Warnings []tour.Warning `json:"warnings"`
}

// parseTourPath splits /tours/{id}[/rest...] into the id and the remainder.
func parseTourPath(path string) (string, []string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/tours/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, false
	}
	return parts[0], parts[1:], true
}

// GetTour handles GET /tours/{id}.
func (h *TourHandlers) GetTour(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	tourID, rest, ok := parseTourPath(r.URL.Path)
	if !ok || len(rest) != 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	t, err := h.source.Fetch(r.Context(), tourID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := TourResponse{Tour: t}
	if first, err := tour.NewGraph(t).First(); err == nil {
		resp.FirstSceneID = first.ID
	}
	WriteJSON(w, r.Context(), http.StatusOK, resp)
}

// GetWarnings handles GET /tours/{id}/warnings.
func (h *TourHandlers) GetWarnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	tourID, rest, ok := parseTourPath(r.URL.Path)
	if !ok || len(rest) != 1 || rest[0] != "warnings" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	t, err := h.source.Fetch(r.Context(), tourID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	warnings := tour.NewGraph(t).Validate()
	if warnings == nil {
		warnings = []tour.Warning{}
	}
	if len(warnings) > 0 {
		slog.InfoContext(r.Context(), "tour has data-quality warnings",
			"tour_id", tourID,
			"count", len(warnings),
		)
	}
	WriteJSON(w, r.Context(), http.StatusOK, WarningsResponse{TourID: t.ID, Warnings: warnings})
}
