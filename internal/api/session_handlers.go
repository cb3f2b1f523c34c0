package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/onnwee/panotour/internal/audio"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/viewer"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// SessionHandlers exposes viewer sessions over HTTP.
type SessionHandlers struct {
	source   tour.Source
	sessions *viewer.Manager
}

// NewSessionHandlers creates session handlers opening tours from source.
func NewSessionHandlers(source tour.Source, sessions *viewer.Manager) *SessionHandlers {
	return &SessionHandlers{source: source, sessions: sessions}
}

// OpenSessionRequest is the body of POST /tours/{id}/sessions.
type OpenSessionRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ClickRequest is a pointer click in viewport pixels.
type ClickRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClickResponse reports which hotspot a click activated.
type ClickResponse struct {
	HotspotIndex int             `json:"hotspot_index"`
	Snapshot     viewer.Snapshot `json:"snapshot"`
}

// OrbitRequest carries camera deltas in degrees.
type OrbitRequest struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Fov   float64 `json:"fov"`
}

// AudioResponse is the audio state after a toggle.
type AudioResponse struct {
	State audio.State `json:"state"`
}

// HotspotsRequest replaces one scene's hotspot list.
type HotspotsRequest struct {
	Hotspots []tour.Hotspot `json:"hotspots"`
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, code, msg string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, http.StatusBadRequest, code, msg)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}

// OpenSession handles POST /tours/{id}/sessions.
func (h *SessionHandlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	tourID, rest, ok := parseTourPath(r.URL.Path)
	if !ok || len(rest) != 1 || rest[0] != "sessions" {
		writeBadRequest(w, r, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	var req OpenSessionRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeBadRequest(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Width < 0 || req.Height < 0 {
		writeBadRequest(w, r, ErrCodeValidation, "Viewport dimensions must not be negative")
		return
	}

	t, err := h.source.Fetch(r.Context(), tourID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s, err := h.sessions.Open(r.Context(), t, viewer.Viewport{Width: req.Width, Height: req.Height})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "viewer session created",
		"session_id", s.ID(),
		"tour_id", tourID,
		"request_id", middleware.GetRequestID(r.Context()),
	)
	w.Header().Set("Location", "/sessions/"+s.ID())
	WriteJSON(w, r.Context(), http.StatusCreated, s.Snapshot())
}

// ServeSession routes /sessions/{id}[/...] requests.
func (h *SessionHandlers) ServeSession(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeBadRequest(w, r, ErrCodeBadRequest, "Invalid URL path")
		return
	}
	id, rest := parts[0], parts[1:]

	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			h.getSession(w, r, id)
		case http.MethodDelete:
			h.deleteSession(w, r, id)
		default:
			writeMethodNotAllowed(w, r)
		}
	case len(rest) == 1 && rest[0] == "click":
		h.withPost(w, r, id, h.click)
	case len(rest) == 1 && rest[0] == "orbit":
		h.withPost(w, r, id, h.orbit)
	case len(rest) == 1 && rest[0] == "retry":
		h.withPost(w, r, id, h.retry)
	case len(rest) == 2 && rest[0] == "audio" && rest[1] == "toggle":
		h.withPost(w, r, id, h.toggleAudio)
	case len(rest) == 3 && rest[0] == "hotspots" && rest[2] == "activate":
		index, err := strconv.Atoi(rest[1])
		if err != nil {
			writeBadRequest(w, r, ErrCodeValidation, "Hotspot index must be an integer")
			return
		}
		h.withPost(w, r, id, func(w http.ResponseWriter, r *http.Request, s *viewer.Session) {
			h.activate(w, r, s, index)
		})
	case len(rest) == 3 && rest[0] == "scenes" && rest[1] != "" && rest[2] == "hotspots":
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w, r)
			return
		}
		s, err := h.sessions.Get(id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		h.updateHotspots(w, r, s, rest[1])
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

func (h *SessionHandlers) withPost(w http.ResponseWriter, r *http.Request, id string, fn func(http.ResponseWriter, *http.Request, *viewer.Session)) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	fn(w, r, s)
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.sessions.Get(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, s.Snapshot())
}

func (h *SessionHandlers) deleteSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.sessions.Close(id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "viewer session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) click(w http.ResponseWriter, r *http.Request, s *viewer.Session) {
	var req ClickRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeBadRequest(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	index, err := s.Click(req.X, req.Y)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if index < 0 {
		// Missed every marker; not an error.
		WriteJSON(w, r.Context(), http.StatusOK, ClickResponse{HotspotIndex: -1, Snapshot: s.Snapshot()})
		return
	}
	WriteJSON(w, r.Context(), http.StatusAccepted, ClickResponse{HotspotIndex: index, Snapshot: s.Snapshot()})
}

func (h *SessionHandlers) activate(w http.ResponseWriter, r *http.Request, s *viewer.Session, index int) {
	if err := s.Activate(index); err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusAccepted, s.Snapshot())
}

func (h *SessionHandlers) orbit(w http.ResponseWriter, r *http.Request, s *viewer.Session) {
	var req OrbitRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeBadRequest(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Pitch != 0 || req.Yaw != 0 {
		if err := s.Orbit(req.Pitch, req.Yaw); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	if req.Fov != 0 {
		if err := s.Zoom(req.Fov); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	WriteJSON(w, r.Context(), http.StatusOK, s.Snapshot())
}

func (h *SessionHandlers) toggleAudio(w http.ResponseWriter, r *http.Request, s *viewer.Session) {
	st, err := s.ToggleAudio()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, AudioResponse{State: st})
}

func (h *SessionHandlers) retry(w http.ResponseWriter, r *http.Request, s *viewer.Session) {
	if err := s.Retry(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusAccepted, s.Snapshot())
}

func (h *SessionHandlers) updateHotspots(w http.ResponseWriter, r *http.Request, s *viewer.Session, sceneID string) {
	var req HotspotsRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeBadRequest(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := s.UpdateHotspots(sceneID, req.Hotspots); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "hotspots updated",
		"session_id", s.ID(),
		"scene_id", sceneID,
		"count", len(req.Hotspots),
	)
	WriteJSON(w, r.Context(), http.StatusOK, s.Snapshot())
}
