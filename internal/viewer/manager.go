package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/panotour/internal/jobs"
	"github.com/onnwee/panotour/internal/tour"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("viewer session not found")

// ErrTooManySessions is returned when the manager is at capacity.
var ErrTooManySessions = errors.New("too many viewer sessions")

// EventSink receives every event of every managed session.
type EventSink interface {
	Broadcast(sessionID string, event any)
	Drop(sessionID string)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// IdleTimeout closes sessions without user input for this long.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are looked for.
	SweepInterval time.Duration
	// FPS is the render loop rate of each session.
	FPS int
	// MaxSessions bounds concurrent sessions (0 = unbounded).
	MaxSessions int
	// JobMetrics records idle sweep runs. Optional.
	JobMetrics jobs.Reporter
}

// Manager owns the running viewer sessions of a server.
type Manager struct {
	deps Deps
	cfg  ManagerConfig
	sink EventSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager that opens sessions with deps. sink may be nil.
func NewManager(deps Deps, cfg ManagerConfig, sink EventSink) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		sink:     sink,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session over t, drives its render loop and registers it.
func (m *Manager) Open(ctx context.Context, t *tour.Tour, vp Viewport) (*Session, error) {
	m.mu.RLock()
	closed, n := m.closed, len(m.sessions)
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if m.cfg.MaxSessions > 0 && n >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	deps := m.deps
	if vp.Width > 0 && vp.Height > 0 {
		deps.Config.Viewport = vp
	}
	s, err := Open(ctx, deps, t)
	if err != nil {
		return nil, err
	}

	// Opens race past the early check while their first scene loads.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return nil, ErrClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		s.Close()
		return nil, ErrTooManySessions
	}
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	events, _ := s.Subscribe()
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := s.Run(m.ctx, m.cfg.FPS); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			slog.Error("viewer render loop stopped", "session_id", s.ID(), "error", err)
		}
	}()
	go func() {
		defer m.wg.Done()
		m.pump(s.ID(), events)
	}()

	return s, nil
}

// pump forwards a session's events to the sink until the session closes.
func (m *Manager) pump(sessionID string, events <-chan Event) {
	for ev := range events {
		if m.sink != nil {
			m.sink.Broadcast(sessionID, ev)
		}
	}
	if m.sink != nil {
		m.sink.Drop(sessionID)
	}
}

// Get returns a session by id and marks it as in use.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

// Close tears down one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start runs the idle sweeper until ctx is done or Shutdown is called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	go func() {
		defer m.wg.Done()
		defer stop()
		defer cancel()
		jobs.Every(ctx, m.cfg.SweepInterval, jobs.JobTypeSessionSweep, m.cfg.JobMetrics, func(context.Context) error {
			m.Sweep(time.Now())
			return nil
		})
	}()
}

// Sweep closes sessions idle since before now minus the idle timeout and
// returns how many were closed.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		slog.Info("closing idle viewer session", "session_id", s.ID())
		s.Close()
		m.deps.Metrics.incSessionsExpired()
	}
	return len(expired)
}

// Shutdown closes every session and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.Close()
	}
	m.wg.Wait()
	slog.Info("viewer sessions shut down", "count", len(sessions))
}
