// Package viewer runs panorama viewing sessions: the scene transition state
// machine, the camera and hotspot picking, and the preloading and audio that
// follow the displayed scene.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/audio"
	"github.com/onnwee/panotour/internal/preload"
	"github.com/onnwee/panotour/internal/texcache"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/tracing"
)

// ErrNothingToRetry is returned by Retry when no load has failed.
var ErrNothingToRetry = errors.New("no failed scene load to retry")

// Session defaults.
const (
	DefaultTransitionDuration = 1200 * time.Millisecond
	DefaultLoadingDelay       = 150 * time.Millisecond
	DefaultCacheCapacity      = 8
	DefaultFPS                = 60
)

const inboxSize = 64

// Config tunes a viewer session.
type Config struct {
	TransitionDuration time.Duration
	// LoadingDelay is how long a commit may wait before the loading
	// indicator is shown.
	LoadingDelay  time.Duration
	CacheCapacity int
	Viewport      Viewport
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		TransitionDuration: DefaultTransitionDuration,
		LoadingDelay:       DefaultLoadingDelay,
		CacheCapacity:      DefaultCacheCapacity,
		Viewport:           DefaultViewport,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TransitionDuration < 0 {
		c.TransitionDuration = 0
	} else if c.TransitionDuration == 0 {
		c.TransitionDuration = d.TransitionDuration
	}
	if c.LoadingDelay <= 0 {
		c.LoadingDelay = d.LoadingDelay
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = d.Viewport
	}
	return c
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Config Config

	// Loader is shared between sessions and is not closed by them. When nil
	// the session creates its own loader over Store and closes it on Close.
	Loader      preload.Loader
	Store       assets.Store
	LoadTimeout time.Duration
	MaxFaceSize int

	Renderer PanoramaRenderer
	Player   audio.Player

	Metrics      *Metrics
	AssetMetrics *assets.Metrics
	CacheMetrics *texcache.Metrics
}

// HotspotView is a hotspot marker with its current screen position.
type HotspotView struct {
	Marker
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID     string         `json:"session_id"`
	TourID        string         `json:"tour_id"`
	State         State          `json:"state"`
	SceneID       string         `json:"scene_id,omitempty"`
	TargetSceneID string         `json:"target_scene_id,omitempty"`
	Camera        Orientation    `json:"camera"`
	Viewport      Viewport       `json:"viewport"`
	Hotspots      []HotspotView  `json:"hotspots"`
	Loading       bool           `json:"loading"`
	LastError     *ErrorInfo     `json:"last_error,omitempty"`
	Audio         audio.Status   `json:"audio"`
	Cache         texcache.Stats `json:"cache"`
	Warnings      []tour.Warning `json:"warnings,omitempty"`
}

type completion struct {
	sceneID string
	gen     uint64
	res     *assets.Resources
	err     error
}

type animation struct {
	from, to Orientation
	elapsed  time.Duration
	duration time.Duration
}

// Session is one viewer instance over a tour. State changes happen only in
// Frame and the input methods, serialized by the session mutex. Background
// loads report through an inbox that Frame drains.
type Session struct {
	id        string
	cfg       Config
	renderer  PanoramaRenderer
	audio     *audio.Companion
	cache     *texcache.Cache
	sched     *preload.Scheduler
	ownLoader *assets.Loader
	metrics   *Metrics
	hub       *hub

	inbox   chan completion
	audioCh chan string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	mu            sync.Mutex
	graph         *tour.Graph
	warnings      []tour.Warning
	state         State
	current       string
	target        string
	targetGen     uint64 // load the transition waits on; 0 means none
	camera        Orientation
	viewport      Viewport
	anim          animation
	transitionAge time.Duration
	commitWait    time.Duration
	loading       bool
	opening       bool
	pendingRes    *assets.Resources
	pendingErr    error
	lastErr       error
	lastFailed    string
	hotspots      []HotspotView
	lastActive    time.Time
}

// Open creates a session over t and loads its first scene, blocking until
// the load ends or ctx is done. A tour without scenes opens in StateEmpty.
// A failed first load leaves the session in StateSceneLoadFailed, where
// Retry can recover it; Open itself only fails when ctx is cancelled.
func Open(ctx context.Context, deps Deps, t *tour.Tour) (s *Session, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "viewer.open")
	defer func() { endSpan(err) }()

	cfg := deps.Config.withDefaults()
	graph := tour.NewGraph(t)

	loader := deps.Loader
	var ownLoader *assets.Loader
	if loader == nil {
		if deps.Store == nil {
			return nil, errors.New("viewer: either a loader or an asset store is required")
		}
		ownLoader = assets.NewLoader(assets.LoaderConfig{
			Store:       deps.Store,
			Timeout:     deps.LoadTimeout,
			MaxFaceSize: deps.MaxFaceSize,
			Metrics:     deps.AssetMetrics,
		})
		loader = ownLoader
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = NewSceneRecorder()
	}
	player := deps.Player
	if player == nil {
		player = audio.NewHTTPPlayer(nil)
	}

	cache := texcache.New(cfg.CacheCapacity, texcache.WithMetrics(deps.CacheMetrics))
	sessionCtx, cancel := context.WithCancel(context.Background())
	s = &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		renderer:   renderer,
		audio:      audio.NewCompanion(player),
		cache:      cache,
		sched:      preload.New(loader, cache, graph),
		ownLoader:  ownLoader,
		metrics:    deps.Metrics,
		hub:        newHub(),
		inbox:      make(chan completion, inboxSize),
		audioCh:    make(chan string, 1),
		ctx:        sessionCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		graph:      graph,
		warnings:   graph.Validate(),
		state:      StateOpening,
		viewport:   cfg.Viewport,
		camera:     Orientation{HFov: assets.DefaultHFov},
		lastActive: time.Now(),
	}
	s.sched.OnReady(s.post)
	s.renderer.OnLoad(func(sceneID string) {
		s.hub.publish(Event{
			Type:      EventSceneLoaded,
			SessionID: s.id,
			State:     StateCommittingScene,
			SceneID:   sceneID,
			Time:      time.Now(),
		})
	})
	s.metrics.sessionOpened()

	s.wg.Add(1)
	go s.audioLoop()

	tracing.SetAttributes(ctx,
		attribute.String("viewer.session_id", s.id),
		attribute.String("tour.id", graph.TourID()),
		attribute.Int("tour.scenes", graph.Len()),
	)
	slog.InfoContext(ctx, "viewer session opened",
		"session_id", s.id,
		"tour_id", graph.TourID(),
		"scenes", graph.Len(),
		"warnings", len(s.warnings),
	)

	first, err := graph.First()
	if err != nil {
		s.mu.Lock()
		s.fireLocked(EvEmptyTour)
		s.mu.Unlock()
		return s, nil
	}

	s.mu.Lock()
	s.target = first.ID
	s.fireLocked(EvNavigate)
	s.mu.Unlock()

	if err := s.loadDirect(ctx, first.ID); err != nil && ctx.Err() != nil {
		s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// loadDirect loads sceneID without an animation. The session must be in
// StateTransitionRequested targeting sceneID.
func (s *Session) loadDirect(ctx context.Context, sceneID string) error {
	s.mu.Lock()
	s.opening = true
	s.targetGen = 0
	s.mu.Unlock()

	res, err := s.sched.Await(ctx, sceneID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false
	if s.state == StateClosed {
		return ErrClosed
	}
	if err != nil {
		s.failLocked(err)
		return err
	}
	s.pendingRes = res
	s.fireLocked(EvSkipAnimation)
	s.commitLocked()
	if s.state != StateIdle {
		return s.lastErr
	}
	return nil
}

// Navigate starts a transition to targetID. The camera turns toward the
// first hotspot of the current scene that leads there, if any.
func (s *Session) Navigate(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigateLocked(targetID, nil)
}

// Activate follows hotspot index of the current scene.
func (s *Session) Activate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	scene, err := s.graph.Resolve(s.current)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(scene.Hotspots) {
		return fmt.Errorf("%w: %d", ErrHotspotIndex, index)
	}
	hs := scene.Hotspots[index]
	return s.navigateLocked(hs.TargetSceneID, &hs.Anchor)
}

// Click picks the hotspot marker under viewport pixel (x, y) and activates
// it. It returns the hotspot index, or -1 when nothing was hit.
func (s *Session) Click(x, y float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return -1, err
	}
	scene, err := s.graph.Resolve(s.current)
	if err != nil {
		return -1, err
	}
	anchors := make([]tour.Anchor, len(scene.Hotspots))
	for i, h := range scene.Hotspots {
		anchors[i] = h.Anchor
	}
	idx, ok := Pick(s.camera, s.viewport, x, y, anchors)
	if !ok {
		return -1, nil
	}
	hs := scene.Hotspots[idx]
	return idx, s.navigateLocked(hs.TargetSceneID, &hs.Anchor)
}

func (s *Session) readyLocked() error {
	switch {
	case s.state == StateClosed:
		return ErrClosed
	case s.state.InFlight():
		s.metrics.incIgnoredInputs()
		return ErrTransitionInFlight
	case s.state != StateIdle:
		return ErrNotReady
	}
	return nil
}

func (s *Session) navigateLocked(targetID string, anchor *tour.Anchor) error {
	if err := s.readyLocked(); err != nil {
		return err
	}
	s.lastActive = time.Now()
	if targetID == s.current {
		return nil
	}
	if !s.graph.Has(targetID) {
		err := fmt.Errorf("%w: %q", ErrSceneUnavailable, targetID)
		s.lastErr = err
		s.publishErrorLocked(err)
		slog.Info("hotspot target unavailable",
			"session_id", s.id,
			"scene_id", s.current,
			"target_scene_id", targetID,
		)
		return err
	}

	if anchor == nil {
		anchor = s.anchorToLocked(targetID)
	}
	to := Orientation{Pitch: s.camera.Pitch, Yaw: s.camera.Yaw, HFov: TransitionHFov}
	if anchor != nil {
		to.Pitch, to.Yaw = anchor.Pitch, anchor.Yaw
	}

	// Completions queued before this request belong to earlier work.
	s.drainLocked()

	s.target = targetID
	s.pendingRes, s.pendingErr = nil, nil
	s.lastErr = nil
	s.commitWait, s.transitionAge = 0, 0
	s.loading = false
	s.anim = animation{from: s.camera, to: to.Clamp(), duration: s.cfg.TransitionDuration}
	s.fireLocked(EvNavigate)

	s.targetGen = 0
	if res, ok := s.sched.Take(targetID); ok {
		s.pendingRes = res
	} else if gen, ok := s.sched.Request(targetID); ok {
		s.targetGen = gen
	}
	return nil
}

func (s *Session) anchorToLocked(targetID string) *tour.Anchor {
	scene, err := s.graph.Resolve(s.current)
	if err != nil {
		return nil
	}
	for _, h := range scene.Hotspots {
		if h.TargetSceneID == targetID {
			a := h.Anchor
			return &a
		}
	}
	return nil
}

// Frame advances the session by dt of frame time. It never blocks on I/O.
func (s *Session) Frame(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.drainLocked()
	if s.opening {
		return
	}

	switch s.state {
	case StateTransitionRequested:
		s.transitionAge += dt
		if s.pendingErr != nil {
			s.failLocked(s.pendingErr)
			break
		}
		s.fireLocked(EvAnimate)
	case StateAnimating:
		s.transitionAge += dt
		s.stepAnimationLocked(dt)
	case StateCommittingScene:
		s.transitionAge += dt
		s.commitStepLocked(dt)
	}
	s.projectLocked()
}

func (s *Session) stepAnimationLocked(dt time.Duration) {
	a := &s.anim
	a.elapsed += dt
	p := 1.0
	if a.duration > 0 {
		p = min(1, float64(a.elapsed)/float64(a.duration))
	}
	s.camera = interpolate(a.from, a.to, ease(p))
	s.renderer.SetOrientation(s.camera)

	if p >= 1 {
		s.fireLocked(EvAnimationDone)
		s.commitStepLocked(0)
	}
}

func (s *Session) commitStepLocked(dt time.Duration) {
	if s.pendingRes == nil && s.pendingErr == nil {
		if res, ok := s.sched.Take(s.target); ok {
			s.pendingRes = res
		}
	}

	switch {
	case s.pendingRes != nil:
		s.commitLocked()
	case s.pendingErr != nil:
		s.failLocked(s.pendingErr)
	default:
		s.commitWait += dt
		if !s.loading && s.commitWait > s.cfg.LoadingDelay {
			s.loading = true
			s.hub.publish(Event{
				Type:          EventLoading,
				SessionID:     s.id,
				State:         s.state,
				SceneID:       s.current,
				TargetSceneID: s.target,
				Time:          time.Now(),
			})
		}
	}
}

// commitLocked swaps in the target scene. The session must be in
// StateCommittingScene with pendingRes set.
func (s *Session) commitLocked() {
	target, res := s.target, s.pendingRes

	scene, err := s.graph.Resolve(target)
	if err != nil {
		s.failLocked(err)
		return
	}
	if err := s.renderer.LoadScene(target, res); err != nil {
		s.failLocked(err)
		return
	}

	s.current = target
	s.target = ""
	s.pendingRes, s.pendingErr = nil, nil
	s.loading = false
	s.lastFailed = ""

	s.camera = defaultOrientation(res)
	s.renderer.SetOrientation(s.camera)
	s.drawMarkersLocked(scene)
	s.sched.SetCurrent(target)
	s.setAudioLocked(scene.AudioURL)

	s.metrics.observeTransition(TransitionOutcomeCommit, s.transitionAge.Seconds())
	s.fireLocked(EvCommitted)
	s.projectLocked()
	s.preloadNeighborsLocked()
}

// failLocked records a load failure. With a scene on screen the session
// returns to it with the camera at its pre-transition pose.
func (s *Session) failLocked(err error) {
	s.lastErr = err
	s.lastFailed = s.target
	s.pendingRes, s.pendingErr = nil, nil
	s.loading = false

	slog.Warn("scene transition failed",
		"session_id", s.id,
		"scene_id", s.current,
		"target_scene_id", s.target,
		"retryable", assets.Retryable(err),
		"error", err,
	)
	s.metrics.observeTransition(TransitionOutcomeFailed, s.transitionAge.Seconds())
	s.fireLocked(EvLoadFailed)

	if s.current == "" {
		return
	}
	s.camera = s.anim.from
	s.renderer.SetOrientation(s.camera)
	s.target = ""
	s.fireLocked(EvRecover)
}

func (s *Session) abortLocked(reason string) {
	err := &TransitionAbortedError{TargetSceneID: s.target, Reason: reason}
	s.lastErr = err
	s.pendingRes, s.pendingErr = nil, nil
	s.loading = false
	s.camera = s.anim.from
	s.renderer.SetOrientation(s.camera)

	slog.Info("scene transition aborted",
		"session_id", s.id,
		"target_scene_id", s.target,
		"reason", reason,
	)
	s.metrics.observeTransition(TransitionOutcomeAborted, s.transitionAge.Seconds())
	s.fireLocked(EvAbort)
	s.target = ""
	s.publishErrorLocked(err)
}

func (s *Session) preloadNeighborsLocked() {
	limit := s.cache.Capacity() - 1
	for i, id := range s.graph.Neighbors(s.current) {
		if i >= limit {
			break
		}
		s.sched.Schedule(id)
	}
}

func (s *Session) drawMarkersLocked(scene *tour.Scene) {
	s.renderer.ClearHotspots()
	for i, h := range scene.Hotspots {
		s.renderer.AddHotspot(Marker{
			Index:         i,
			Anchor:        h.Anchor,
			TargetSceneID: h.TargetSceneID,
			Label:         h.Label,
			ImageURL:      h.ImageURL,
			Dangling:      !s.graph.Has(h.TargetSceneID),
		})
	}
}

func (s *Session) projectLocked() {
	s.hotspots = s.hotspots[:0]
	if s.current == "" {
		return
	}
	scene, err := s.graph.Resolve(s.current)
	if err != nil {
		return
	}
	for i, h := range scene.Hotspots {
		x, y, visible := Project(s.camera, s.viewport, h.Anchor)
		s.hotspots = append(s.hotspots, HotspotView{
			Marker: Marker{
				Index:         i,
				Anchor:        h.Anchor,
				TargetSceneID: h.TargetSceneID,
				Label:         h.Label,
				ImageURL:      h.ImageURL,
				Dangling:      !s.graph.Has(h.TargetSceneID),
			},
			X:       x,
			Y:       y,
			Visible: visible,
		})
	}
}

func defaultOrientation(res *assets.Resources) Orientation {
	pitch, yaw, hfov, ok := res.DefaultView()
	if !ok {
		return Orientation{HFov: assets.DefaultHFov}
	}
	return Orientation{Pitch: pitch, Yaw: yaw, HFov: hfov}.Clamp()
}

// post is the scheduler's completion callback. It runs on a loader
// goroutine and must not block.
func (s *Session) post(sceneID string, gen uint64, res *assets.Resources, err error) {
	select {
	case s.inbox <- completion{sceneID: sceneID, gen: gen, res: res, err: err}:
	default:
		// Frame falls back to the cache for successful loads.
		slog.Debug("viewer inbox full, dropping completion", "session_id", s.id, "scene_id", sceneID)
	}
}

// drainLocked adopts the completion of the load the current transition
// waits on. Completions of earlier loads of the same scene are dropped.
func (s *Session) drainLocked() {
	for {
		select {
		case c := <-s.inbox:
			if !s.state.InFlight() || c.sceneID != s.target || c.gen != s.targetGen || s.pendingRes != nil {
				continue
			}
			if c.err != nil && (errors.Is(c.err, context.Canceled) || errors.Is(c.err, preload.ErrClosed)) {
				continue
			}
			s.pendingRes, s.pendingErr = c.res, c.err
		default:
			return
		}
	}
}

func (s *Session) fireLocked(ev EventKind) bool {
	tr, ok := TransitionFor(s.state, ev)
	if !ok {
		slog.Warn("ignoring invalid viewer transition",
			"session_id", s.id,
			"state", s.state,
			"event", ev,
		)
		return false
	}
	from := s.state
	s.state = tr.To

	e := Event{
		Type:          EventStateChanged,
		SessionID:     s.id,
		From:          from,
		State:         tr.To,
		SceneID:       s.current,
		TargetSceneID: s.target,
		Time:          time.Now(),
	}
	if tr.To == StateSceneLoadFailed {
		e.Error = newErrorInfo(s.lastErr)
	}
	s.hub.publish(e)
	return true
}

func (s *Session) publishErrorLocked(err error) {
	s.hub.publish(Event{
		Type:          EventError,
		SessionID:     s.id,
		State:         s.state,
		SceneID:       s.current,
		TargetSceneID: s.target,
		Error:         newErrorInfo(err),
		Time:          time.Now(),
	})
}

// Orbit turns the camera by the given deltas in degrees.
func (s *Session) Orbit(dPitch, dYaw float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	s.lastActive = time.Now()
	s.camera = Orientation{
		Pitch: s.camera.Pitch + dPitch,
		Yaw:   s.camera.Yaw + dYaw,
		HFov:  s.camera.HFov,
	}.Clamp()
	s.renderer.SetOrientation(s.camera)
	s.projectLocked()
	return nil
}

// Zoom changes the horizontal field of view by dFov degrees.
func (s *Session) Zoom(dFov float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	s.lastActive = time.Now()
	s.camera.HFov += dFov
	s.camera = s.camera.Clamp()
	s.renderer.SetOrientation(s.camera)
	s.projectLocked()
	return nil
}

// Resize sets the viewport used for projection and picking.
func (s *Session) Resize(vp Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vp.Width <= 0 || vp.Height <= 0 {
		return
	}
	s.viewport = vp
	s.projectLocked()
}

// UpdateHotspots replaces the hotspot list of one scene while the session
// runs. Markers of the displayed scene are redrawn.
func (s *Session) UpdateHotspots(sceneID string, hotspots []tour.Hotspot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	g, err := s.graph.WithHotspots(sceneID, hotspots)
	if err != nil {
		return err
	}
	s.swapGraphLocked(g)
	return nil
}

// ReplaceTour swaps in an edited tour. The displayed scene must survive the
// edit; an in-flight transition whose target was removed is aborted.
func (s *Session) ReplaceTour(t *tour.Tour) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	g := tour.NewGraph(t)
	if s.current != "" && !g.Has(s.current) {
		return fmt.Errorf("%w: displayed scene %q was removed", ErrSceneUnavailable, s.current)
	}
	s.swapGraphLocked(g)
	return nil
}

func (s *Session) swapGraphLocked(g *tour.Graph) {
	s.graph = g
	s.warnings = g.Validate()
	s.sched.SetScenes(g)

	if s.state.InFlight() && !g.Has(s.target) {
		s.abortLocked("target scene no longer exists")
	}
	if scene, err := g.Resolve(s.current); err == nil {
		s.drawMarkersLocked(scene)
	}
	s.projectLocked()
	if s.state == StateIdle {
		s.preloadNeighborsLocked()
	}
}

// ToggleAudio flips the audio companion between playing and paused.
func (s *Session) ToggleAudio() (audio.State, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.lastActive = time.Now()
	s.mu.Unlock()

	st := s.audio.Toggle()
	s.publishAudio()
	return st, nil
}

// Retry re-attempts the last failed scene load. A failed first scene is
// reloaded in place, blocking on ctx; any other target is navigated to
// again.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.state == StateSceneLoadFailed && s.current == "":
		s.target = s.lastFailed
		s.lastErr = nil
		s.transitionAge = 0
		s.fireLocked(EvRetry)
		target := s.target
		s.mu.Unlock()
		return s.loadDirect(ctx, target)
	case s.lastFailed != "" && s.lastErr != nil:
		defer s.mu.Unlock()
		return s.navigateLocked(s.lastFailed, nil)
	}
	s.mu.Unlock()
	return ErrNothingToRetry
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		SessionID:     s.id,
		TourID:        s.graph.TourID(),
		State:         s.state,
		SceneID:       s.current,
		TargetSceneID: s.target,
		Camera:        s.camera,
		Viewport:      s.viewport,
		Hotspots:      append([]HotspotView(nil), s.hotspots...),
		Loading:       s.loading,
		LastError:     newErrorInfo(s.lastErr),
		Warnings:      append([]tour.Warning(nil), s.warnings...),
	}
	s.mu.Unlock()

	snap.Audio = s.audio.Status()
	snap.Cache = s.cache.Stats()
	return snap
}

// Graph returns the scene graph the session currently navigates.
func (s *Session) Graph() *tour.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// LastError returns the most recent surfaced error.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IdleSince returns the time of the last user input.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch marks the session as in use.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// Subscribe returns a channel of session events and a function that ends
// the subscription. The channel is closed when the session closes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.hub.subscribe()
}

// Run calls Frame at fps until ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context, fps int) error {
	if fps <= 0 {
		fps = DefaultFPS
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case now := <-ticker.C:
			s.Frame(now.Sub(last))
			last = now
		}
	}
}

// Close tears the session down: it stops the render loop, cancels
// outstanding loads, destroys the renderer and stops audio. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.fireLocked(EvClose)
	s.mu.Unlock()

	close(s.done)
	s.cancel()
	s.sched.Close()
	if s.ownLoader != nil {
		s.ownLoader.Close()
	}
	s.wg.Wait()

	s.renderer.Destroy()
	s.audio.Close()
	s.cache.Clear()
	s.hub.close()
	s.metrics.sessionClosed()
	slog.Info("viewer session closed", "session_id", s.id)
}

func (s *Session) setAudioLocked(url string) {
	select {
	case <-s.audioCh:
	default:
	}
	s.audioCh <- url
}

// audioLoop applies track changes off the session mutex, since loading a
// track probes the network. Only the latest request is kept.
func (s *Session) audioLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case url := <-s.audioCh:
			s.audio.SetTrack(s.ctx, url)
			s.publishAudio()
		}
	}
}

func (s *Session) publishAudio() {
	st := s.audio.Status()
	e := Event{Type: EventAudio, SessionID: s.id, Time: time.Now()}
	if st.LastError != "" {
		e.Error = &ErrorInfo{Code: CodeInternal, Message: st.LastError}
	}
	s.hub.publish(e)
}
