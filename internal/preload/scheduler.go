// Package preload speculatively loads scenes the viewer is likely to need next.
package preload

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/texcache"
	"github.com/onnwee/panotour/internal/tour"
)

// ErrClosed is returned once the scheduler stops accepting work.
var ErrClosed = errors.New("preload scheduler closed")

// Loader loads the assets of one scene.
type Loader interface {
	Load(ctx context.Context, scene tour.Scene) (*assets.Resources, error)
}

// Resolver looks up scenes by id. *tour.Graph implements it.
type Resolver interface {
	Resolve(id string) (*tour.Scene, error)
}

// ReadyFunc is called from the loading goroutine when a scheduled load ends.
// gen is the generation Request reported for the load. It must not block.
type ReadyFunc func(sceneID string, gen uint64, res *assets.Resources, err error)

type call struct {
	gen  uint64
	done chan struct{}
	res  *assets.Resources
	err  error
}

// Scheduler runs best-effort background loads into a texture cache. A load
// that is no longer wanted still runs to completion and its result is cached.
type Scheduler struct {
	loader Loader
	cache  *texcache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	scenes  Resolver
	current string
	seq     uint64
	pending map[string]*call
	onReady ReadyFunc
	closed  bool
}

// New creates a scheduler that loads through loader and stores into cache.
func New(loader Loader, cache *texcache.Cache, scenes Resolver) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		loader:  loader,
		cache:   cache,
		scenes:  scenes,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*call),
	}
}

// OnReady registers the completion callback, replacing any previous one.
func (s *Scheduler) OnReady(fn ReadyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = fn
}

// SetScenes swaps the scene lookup after a graph edit.
func (s *Scheduler) SetScenes(scenes Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = scenes
}

// SetCurrent records the displayed scene and pins it in the cache.
func (s *Scheduler) SetCurrent(sceneID string) {
	s.mu.Lock()
	s.current = sceneID
	s.mu.Unlock()
	s.cache.Pin(sceneID)
}

// Schedule starts a background load of sceneID and returns immediately.
// It does nothing for the current scene, for a cached scene and for a scene
// that is already loading. It reports whether a new load was started.
func (s *Scheduler) Schedule(sceneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || sceneID == "" || sceneID == s.current {
		return false
	}
	if _, ok := s.pending[sceneID]; ok {
		return false
	}
	if s.cache.Contains(sceneID) {
		return false
	}
	_, err := s.startLocked(sceneID)
	return err == nil
}

// Request makes sure a load of sceneID is running and returns its
// generation. Every load gets a higher generation than the ones started
// before it, so a caller can tell its load's completion from that of an
// earlier load of the same scene. ok is false when nothing is loading: the
// scene is current, cached or unknown, or the scheduler is closed.
func (s *Scheduler) Request(sceneID string) (gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || sceneID == "" || sceneID == s.current {
		return 0, false
	}
	if c, ok := s.pending[sceneID]; ok {
		return c.gen, true
	}
	if s.cache.Contains(sceneID) {
		return 0, false
	}
	c, err := s.startLocked(sceneID)
	if err != nil {
		return 0, false
	}
	return c.gen, true
}

// Take returns cached resources for sceneID.
func (s *Scheduler) Take(sceneID string) (*assets.Resources, bool) {
	return s.cache.Get(sceneID)
}

// Pending reports whether a load for sceneID is in flight.
func (s *Scheduler) Pending(sceneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[sceneID]
	return ok
}

// Await returns the resources for sceneID, waiting for an in-flight load if
// there is one and starting a load otherwise. Cancelling ctx stops waiting
// but leaves the load running.
func (s *Scheduler) Await(ctx context.Context, sceneID string) (*assets.Resources, error) {
	if res, ok := s.cache.Get(sceneID); ok {
		return res, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	c, ok := s.pending[sceneID]
	if !ok {
		var err error
		c, err = s.startLocked(sceneID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	select {
	case <-c.done:
		return c.res, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work, cancels running loads and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) startLocked(sceneID string) (*call, error) {
	scene, err := s.scenes.Resolve(sceneID)
	if err != nil {
		return nil, err
	}

	s.seq++
	c := &call{gen: s.seq, done: make(chan struct{})}
	s.pending[sceneID] = c
	s.wg.Add(1)
	go s.run(*scene, c)
	return c, nil
}

func (s *Scheduler) run(scene tour.Scene, c *call) {
	defer s.wg.Done()

	res, err := s.loader.Load(s.ctx, scene)
	if err == nil {
		s.cache.Put(scene.ID, res)
	} else if !errors.Is(err, context.Canceled) && !errors.Is(err, assets.ErrClosed) {
		slog.Debug("preload failed", "scene_id", scene.ID, "error", err)
	}

	c.res, c.err = res, err

	s.mu.Lock()
	delete(s.pending, scene.ID)
	onReady := s.onReady
	s.mu.Unlock()
	close(c.done)

	if onReady != nil {
		onReady(scene.ID, c.gen, res, err)
	}
}
