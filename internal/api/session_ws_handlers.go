package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/stream"
	"github.com/onnwee/panotour/internal/viewer"
)

// SessionWebSocketHandlers streams viewer session events to browser clients.
type SessionWebSocketHandlers struct {
	sessions    *viewer.Manager
	broadcaster *stream.EventBroadcaster
	upgrader    websocket.Upgrader
}

// NewSessionWebSocketHandlers creates websocket handlers. An empty
// allowedOrigins list accepts any origin.
func NewSessionWebSocketHandlers(sessions *viewer.Manager, broadcaster *stream.EventBroadcaster, allowedOrigins []string) *SessionWebSocketHandlers {
	return &SessionWebSocketHandlers{
		sessions:    sessions,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Subscribe handles GET /sessions/{id}/ws. The connection receives every
// event of the session until the client disconnects or the session closes.
func (h *SessionWebSocketHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Expected: /sessions/{id}/ws
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] != "ws" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}
	sessionID := pathParts[0]

	if _, err := h.sessions.Get(sessionID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"session_id", sessionID,
		)
		return
	}

	// The server's ReadTimeout still applies to the hijacked connection.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		slog.WarnContext(ctx, "failed to clear websocket read deadline", "error", err)
	}

	h.broadcaster.Subscribe(sessionID, conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to viewer events",
		"session_id", sessionID,
		"request_id", requestID,
	)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"session_id", sessionID,
			"request_id", requestID,
		)
	}()

	// Clients do not send messages; reading detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"session_id", sessionID,
				)
			}
			return
		}
	}
}
