package viewer

import (
	"log/slog"
	"sync"
	"time"
)

// EventType classifies session events.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventSceneLoaded  EventType = "scene_loaded"
	EventLoading      EventType = "loading"
	EventError        EventType = "error"
	EventAudio        EventType = "audio"
)

// Event is published to subscribers on every state change and surfaced error.
type Event struct {
	Type          EventType  `json:"type"`
	SessionID     string     `json:"session_id"`
	From          State      `json:"from,omitempty"`
	State         State      `json:"state,omitempty"`
	SceneID       string     `json:"scene_id,omitempty"`
	TargetSceneID string     `json:"target_scene_id,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
	Time          time.Time  `json:"time"`
}

const subscriberBuffer = 64

// hub fans events out to subscriber channels. A subscriber that falls
// behind loses events rather than stalling the session.
type hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("dropping viewer event for slow subscriber",
				"session_id", ev.SessionID,
				"type", ev.Type,
			)
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
