// Package stream provides WebSocket event broadcasting for live viewer sessions.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// writeWait bounds a single event write to a slow client.
const writeWait = 5 * time.Second

// EventBroadcaster manages WebSocket connections and broadcasts viewer events.
type EventBroadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[*websocket.Conn]bool // viewerSessionID -> connections
	metrics     *Metrics
}

// NewEventBroadcaster creates a new event broadcaster. metrics may be nil.
func NewEventBroadcaster(metrics *Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		connections: make(map[string]map[*websocket.Conn]bool),
		metrics:     metrics,
	}
}

// Subscribe registers a WebSocket connection for a viewer session.
func (b *EventBroadcaster) Subscribe(sessionID string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[sessionID] == nil {
		b.connections[sessionID] = make(map[*websocket.Conn]bool)
	}
	if !b.connections[sessionID][conn] {
		b.connections[sessionID][conn] = true
		b.metrics.connOpened()
	}
}

// Unsubscribe removes a WebSocket connection from all viewer sessions.
func (b *EventBroadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, conns := range b.connections {
		if conns[conn] {
			delete(conns, conn)
			b.metrics.connClosed()
		}
		if len(conns) == 0 {
			delete(b.connections, sessionID)
		}
	}
}

// Drop closes and forgets every connection of a viewer session.
func (b *EventBroadcaster) Drop(sessionID string) {
	b.mu.Lock()
	conns := b.connections[sessionID]
	delete(b.connections, sessionID)
	b.mu.Unlock()

	for conn := range conns {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
		_ = conn.Close()
		b.metrics.connClosed()
	}
}

// Broadcast sends an event to all subscribers of a viewer session.
// Events of one session must be broadcast from a single goroutine.
func (b *EventBroadcaster) Broadcast(sessionID string, event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns, exists := b.connections[sessionID]
	if !exists || len(conns) == 0 {
		return
	}

	// Serialize event once
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal viewer event", "error", err)
		return
	}

	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.metrics.incSendFailures()
			slog.Warn("failed to send message to websocket client",
				"error", err,
				"session_id", sessionID,
			)
			// Connection will be cleaned up when client disconnects
			continue
		}
		b.metrics.incMessagesSent()
	}
}

// ConnectionCount returns the number of active WebSocket connections for a session.
func (b *EventBroadcaster) ConnectionCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if conns, exists := b.connections[sessionID]; exists {
		return len(conns)
	}
	return 0
}
