package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/panotour/internal/image"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/tracing"
)

// DefaultTimeout bounds a single scene load.
const DefaultTimeout = 15 * time.Second

// Face is one decoded-ready cube face.
type Face struct {
	Name   string
	URL    string
	Data   []byte
	Format string
}

// Resources are the ready-to-render assets of one scene. They are shared by
// every caller that joined the same load and must not be modified.
type Resources struct {
	SceneID  string
	Kind     tour.AssetKind
	Faces    [6]Face
	FaceSize int
	Manifest *Manifest
	LoadedAt time.Time
}

// Size returns the approximate memory held by the resources in bytes.
func (r *Resources) Size() int64 {
	var n int64
	for _, f := range r.Faces {
		n += int64(len(f.Data))
	}
	return n
}

// DefaultView returns the orientation a scene opens with. ok is false when
// the asset carries no preference.
func (r *Resources) DefaultView() (pitch, yaw, hfov float64, ok bool) {
	if r == nil || r.Manifest == nil {
		return 0, 0, 0, false
	}
	return r.Manifest.Pitch, r.Manifest.Yaw, r.Manifest.HFov, true
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Store Store
	// Timeout bounds each load (default 15s).
	Timeout time.Duration
	// MaxFaceSize downsizes larger cube faces (0 = keep original size).
	MaxFaceSize int
	// Metrics may be nil.
	Metrics *Metrics
}

// Loader fetches scene assets. Concurrent loads of the same scene asset
// share one fetch; the de-dup key covers the asset URLs, so scenes of
// different tours that happen to share an id never share a load. A fetch
// runs while at least one caller still waits for it.
type Loader struct {
	store     Store
	timeout   time.Duration
	normalize image.NormalizeConfig
	metrics   *Metrics

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	interest map[string]*interest
	inflight map[string]int // scene id -> running fetches
	wg       sync.WaitGroup
}

// interest counts the callers waiting on one key. Its context is the
// fetch's lifetime.
type interest struct {
	waiters int
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewLoader creates a loader over the given store.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	normalize := image.DefaultNormalizeConfig()
	normalize.MaxSize = cfg.MaxFaceSize

	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		store:     cfg.Store,
		timeout:   cfg.Timeout,
		normalize: normalize,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		interest:  make(map[string]*interest),
		inflight:  make(map[string]int),
	}
}

// Load fetches a scene's assets according to its asset kind.
func (l *Loader) Load(ctx context.Context, scene tour.Scene) (*Resources, error) {
	switch scene.Asset.Kind {
	case tour.AssetCube:
		return l.LoadCubeFaces(ctx, scene.ID, scene.Asset.Faces)
	case tour.AssetMultiRes:
		return l.LoadTileManifest(ctx, scene.ID, scene.Asset.ManifestURL)
	default:
		return nil, &ConfigParseError{
			SceneID: scene.ID,
			Err:     fmt.Errorf("unknown asset kind %q", scene.Asset.Kind),
		}
	}
}

// LoadCubeFaces fetches six cube faces concurrently. Any missing face fails
// the whole load; faces must be square and equally sized.
func (l *Loader) LoadCubeFaces(ctx context.Context, sceneID string, urls [6]string) (*Resources, error) {
	key := assetKey(tour.AssetCube, sceneID, urls[:]...)
	return l.do(ctx, key, sceneID, tour.AssetCube, func(ctx context.Context) (*Resources, error) {
		var data [6][]byte

		g, gctx := errgroup.WithContext(ctx)
		for i, u := range urls {
			g.Go(func() error {
				if u == "" {
					return &ConfigParseError{
						SceneID: sceneID,
						Err:     fmt.Errorf("no URL for face %s", tour.CubeFaceNames[i]),
					}
				}
				b, err := l.store.Get(gctx, u)
				if err != nil {
					return withScene(err, sceneID)
				}
				data[i] = b
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		size, err := image.CheckCubeFaces(data)
		if err != nil {
			return nil, &ConfigParseError{SceneID: sceneID, URL: urls[0], Err: err}
		}

		res := &Resources{
			SceneID:  sceneID,
			Kind:     tour.AssetCube,
			FaceSize: size,
			LoadedAt: time.Now(),
		}
		for i := range data {
			b, info, err := image.Normalize(data[i], l.normalize)
			if err != nil {
				return nil, &ConfigParseError{SceneID: sceneID, URL: urls[i], Err: err}
			}
			res.Faces[i] = Face{
				Name:   tour.CubeFaceNames[i],
				URL:    urls[i],
				Data:   b,
				Format: info.Format,
			}
			res.FaceSize = info.Width
		}
		return res, nil
	})
}

// LoadTileManifest fetches and validates a multi-resolution tile manifest.
func (l *Loader) LoadTileManifest(ctx context.Context, sceneID, manifestURL string) (*Resources, error) {
	key := assetKey(tour.AssetMultiRes, sceneID, manifestURL)
	return l.do(ctx, key, sceneID, tour.AssetMultiRes, func(ctx context.Context) (*Resources, error) {
		if manifestURL == "" {
			return nil, &ConfigParseError{SceneID: sceneID, Err: errors.New("no manifest URL")}
		}
		b, err := l.store.Get(ctx, manifestURL)
		if err != nil {
			return nil, withScene(err, sceneID)
		}
		m, err := ParseManifest(b, manifestURL)
		if err != nil {
			return nil, &ConfigParseError{SceneID: sceneID, URL: manifestURL, Err: err}
		}
		return &Resources{
			SceneID:  sceneID,
			Kind:     tour.AssetMultiRes,
			FaceSize: m.CubeResolution,
			Manifest: m,
			LoadedAt: time.Now(),
		}, nil
	})
}

// InFlight reports whether a fetch for sceneID is still running, including
// one that lost all its waiters and is winding down.
func (l *Loader) InFlight(sceneID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[sceneID] > 0
}

// Close cancels every outstanding fetch and waits for them to return.
// Later loads fail with ErrClosed.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}

func assetKey(kind tour.AssetKind, sceneID string, urls ...string) string {
	return string(kind) + "\x00" + sceneID + "\x00" + strings.Join(urls, "\x00")
}

func (l *Loader) do(ctx context.Context, key, sceneID string, kind tour.AssetKind, fn func(context.Context) (*Resources, error)) (*Resources, error) {
	ictx, err := l.incInterest(key)
	if err != nil {
		return nil, err
	}
	defer l.decInterest(key)

	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.run(ictx, sceneID, kind, fn)
	})

	select {
	case res := <-ch:
		if res.Shared {
			l.metrics.IncSharedLoads()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Resources), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) incInterest(key string) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	in, ok := l.interest[key]
	if !ok {
		ctx, cancel := context.WithCancel(l.ctx)
		in = &interest{ctx: ctx, cancel: cancel}
		l.interest[key] = in
	}
	in.waiters++
	return in.ctx, nil
}

// decInterest drops one waiter. The last one cancels the fetch and forgets
// the key so the next caller starts afresh instead of joining it.
func (l *Loader) decInterest(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.interest[key]
	if !ok {
		return
	}
	in.waiters--
	if in.waiters == 0 {
		in.cancel()
		delete(l.interest, key)
		l.group.Forget(key)
	}
}

// run executes one de-duplicated load. ctx ends when the loader closes or
// every waiter has left.
func (l *Loader) run(ctx context.Context, sceneID string, kind tour.AssetKind, fn func(context.Context) (*Resources, error)) (*Resources, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.wg.Add(1)
	l.inflight[sceneID]++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.inflight[sceneID]--; l.inflight[sceneID] <= 0 {
			delete(l.inflight, sceneID)
		}
		l.mu.Unlock()
		l.wg.Done()
	}()

	return l.fetch(ctx, sceneID, kind, fn)
}

func (l *Loader) fetch(ctx context.Context, sceneID string, kind tour.AssetKind, fn func(context.Context) (*Resources, error)) (res *Resources, err error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ctx, endSpan := tracing.StartSpan(ctx, "assets.load")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx,
		attribute.String("scene.id", sceneID),
		attribute.String("asset.kind", string(kind)),
	)

	start := time.Now()
	res, err = fn(ctx)
	if err != nil {
		switch {
		case l.ctx.Err() != nil:
			err = fmt.Errorf("%w: %v", ErrClosed, err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = &TimeoutError{SceneID: sceneID, After: l.timeout}
		case ctx.Err() != nil:
			err = fmt.Errorf("scene %s load abandoned: %w", sceneID, context.Canceled)
		}
	}
	l.metrics.ObserveLoad(string(kind), outcome(err), time.Since(start).Seconds())

	switch {
	case errors.Is(err, context.Canceled):
		slog.Debug("scene asset load abandoned", "scene_id", sceneID, "kind", kind)
		return nil, err
	case err != nil:
		slog.Warn("scene asset load failed",
			"scene_id", sceneID,
			"kind", kind,
			"retryable", Retryable(err),
			"error", err,
		)
		return nil, err
	}
	slog.Debug("scene asset loaded",
		"scene_id", sceneID,
		"kind", kind,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func withScene(err error, sceneID string) error {
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.SceneID == "" {
		nf.SceneID = sceneID
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrConfigParse):
		return OutcomeInvalid
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
