// Package audio plays one ambient track per scene alongside the viewer.
package audio

import (
	"context"
	"log/slog"
	"sync"
)

// State is the user-facing play/pause state.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Status is a snapshot of the companion.
type Status struct {
	State     State  `json:"state"`
	Track     string `json:"track,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Companion owns the scene's ambient track. The play/pause state survives
// scene changes. Failures never propagate: they pause playback and are
// recorded in the status. Track loads run outside the companion lock, so
// Toggle and Status never wait on the network.
type Companion struct {
	mu      sync.Mutex
	player  Player
	state   State
	track   string
	seq     uint64 // bumped per SetTrack; a load applies only if still latest
	loaded  bool
	closed  bool
	lastErr error
}

// NewCompanion creates a companion that starts in the playing state.
func NewCompanion(player Player) *Companion {
	return &Companion{player: player, state: StatePlaying}
}

// SetTrack stops the previous track and loads url, resuming playback when
// the companion is playing. An empty url means the scene is silent.
func (c *Companion) SetTrack(ctx context.Context, url string) {
	c.mu.Lock()
	if c.closed || (url == c.track && c.loaded) {
		c.mu.Unlock()
		return
	}
	c.player.Stop()
	c.seq++
	seq := c.seq
	c.track = url
	c.loaded = false
	c.lastErr = nil
	c.mu.Unlock()

	if url == "" {
		return
	}
	err := c.player.Load(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.seq != seq {
		return
	}
	if err != nil {
		c.failLocked(ctx, "audio track load failed", err)
		return
	}
	c.loaded = true

	if c.state == StatePlaying {
		if err := c.player.Play(); err != nil {
			c.failLocked(ctx, "audio playback refused", err)
		}
	}
}

// Toggle flips between playing and paused and returns the new state.
func (c *Companion) Toggle() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePlaying {
		c.state = StatePaused
		if c.loaded {
			c.player.Pause()
		}
		return c.state
	}

	c.state = StatePlaying
	c.lastErr = nil
	if c.loaded {
		if err := c.player.Play(); err != nil {
			c.failLocked(context.Background(), "audio playback refused", err)
		}
	}
	return c.state
}

// Status returns the current state, track and last failure.
func (c *Companion) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{State: c.state, Track: c.track}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Close stops playback.
func (c *Companion) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.player.Stop()
	c.loaded = false
}

func (c *Companion) failLocked(ctx context.Context, msg string, err error) {
	c.state = StatePaused
	c.lastErr = err
	slog.WarnContext(ctx, msg, "track", c.track, "error", err)
}
