package preload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/texcache"
	"github.com/onnwee/panotour/internal/tour"
)

// fakeLoader counts loads per scene and can hold them until released.
type fakeLoader struct {
	mu    sync.Mutex
	calls map[string]int
	gate  chan struct{}
	fail  map[string]error
	total atomic.Int32
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{calls: map[string]int{}, fail: map[string]error{}}
}

func (l *fakeLoader) Load(ctx context.Context, scene tour.Scene) (*assets.Resources, error) {
	l.total.Add(1)
	l.mu.Lock()
	l.calls[scene.ID]++
	gate := l.gate
	err := l.fail[scene.ID]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &assets.Resources{SceneID: scene.ID}, nil
}

func (l *fakeLoader) count(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[id]
}

func graphOf(ids ...string) *tour.Graph {
	t := &tour.Tour{}
	for _, id := range ids {
		t.Scenes = append(t.Scenes, tour.Scene{ID: id})
	}
	return tour.NewGraph(t)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedule_Idempotent(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	s := New(loader, texcache.New(4), graphOf("A", "B"))
	defer s.Close()

	if !s.Schedule("B") {
		t.Fatal("expected first Schedule to start a load")
	}
	for i := 0; i < 5; i++ {
		if s.Schedule("B") {
			t.Error("expected repeated Schedule to be a no-op")
		}
	}
	close(loader.gate)

	waitFor(t, func() bool { return !s.Pending("B") })
	if n := loader.count("B"); n != 1 {
		t.Errorf("expected 1 load, got %d", n)
	}
	if _, ok := s.Take("B"); !ok {
		t.Error("expected B in cache")
	}
	if s.Schedule("B") {
		t.Error("expected Schedule of cached scene to be a no-op")
	}
}

func TestSchedule_SkipsCurrentAndUnknown(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, texcache.New(4), graphOf("A", "B"))
	defer s.Close()

	s.SetCurrent("A")
	if s.Schedule("A") {
		t.Error("expected Schedule of current scene to be a no-op")
	}
	if s.Schedule("missing") {
		t.Error("expected Schedule of unknown scene to be a no-op")
	}
	if s.Schedule("") {
		t.Error("expected Schedule of empty id to be a no-op")
	}
	if loader.total.Load() != 0 {
		t.Errorf("expected no loads, got %d", loader.total.Load())
	}
}

func TestAwait_JoinsInFlightLoad(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	s := New(loader, texcache.New(4), graphOf("A", "B"))
	defer s.Close()

	s.Schedule("B")

	done := make(chan *assets.Resources, 1)
	go func() {
		res, err := s.Await(context.Background(), "B")
		if err != nil {
			t.Errorf("Await() error: %v", err)
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	close(loader.gate)

	select {
	case res := <-done:
		if res == nil || res.SceneID != "B" {
			t.Errorf("unexpected resources %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return")
	}
	if n := loader.count("B"); n != 1 {
		t.Errorf("expected Await to reuse the in-flight load, got %d loads", n)
	}
}

func TestAwait_StartsLoadWhenIdle(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, texcache.New(4), graphOf("A"))
	defer s.Close()

	res, err := s.Await(context.Background(), "A")
	if err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	if res.SceneID != "A" {
		t.Errorf("expected A, got %s", res.SceneID)
	}

	if _, err := s.Await(context.Background(), "missing"); !errors.Is(err, tour.ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound, got %v", err)
	}
}

func TestAwait_CallerCancelKeepsLoadRunning(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	s := New(loader, texcache.New(4), graphOf("A"))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Await(ctx, "A"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(loader.gate)
	waitFor(t, func() bool { _, ok := s.Take("A"); return ok })
}

func TestOnReady(t *testing.T) {
	loader := newFakeLoader()
	loadErr := &assets.NotFoundError{SceneID: "B", URL: "u"}
	loader.fail["B"] = loadErr
	s := New(loader, texcache.New(4), graphOf("A", "B"))
	defer s.Close()

	type result struct {
		id  string
		err error
	}
	results := make(chan result, 2)
	s.OnReady(func(id string, _ uint64, _ *assets.Resources, err error) {
		results <- result{id, err}
	})

	s.Schedule("A")
	s.Schedule("B")

	got := map[string]error{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got[r.id] = r.err
		case <-time.After(2 * time.Second):
			t.Fatal("OnReady not called")
		}
	}
	if got["A"] != nil {
		t.Errorf("expected A to succeed, got %v", got["A"])
	}
	if !errors.Is(got["B"], assets.ErrNotFound) {
		t.Errorf("expected B to fail with ErrNotFound, got %v", got["B"])
	}
	if _, ok := s.Take("B"); ok {
		t.Error("failed load must not be cached")
	}
}

func TestRequest_Generations(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	loader.fail["B"] = &assets.NotFoundError{SceneID: "B", URL: "u"}
	s := New(loader, texcache.New(4), graphOf("A", "B"))
	defer s.Close()

	finished := make(chan uint64, 2)
	s.OnReady(func(id string, gen uint64, _ *assets.Resources, _ error) {
		if id == "B" {
			finished <- gen
		}
	})
	next := func() uint64 {
		t.Helper()
		select {
		case gen := <-finished:
			return gen
		case <-time.After(2 * time.Second):
			t.Fatal("OnReady not called")
			return 0
		}
	}

	first, ok := s.Request("B")
	if !ok {
		t.Fatal("expected Request to start a load")
	}
	if again, _ := s.Request("B"); again != first {
		t.Errorf("Request joined generation %d, want running load %d", again, first)
	}
	close(loader.gate)
	if gen := next(); gen != first {
		t.Errorf("completion carried generation %d, want %d", gen, first)
	}

	// A failed load is not cached, so asking again starts a newer load.
	waitFor(t, func() bool { return !s.Pending("B") })
	second, ok := s.Request("B")
	if !ok || second <= first {
		t.Fatalf("second Request = %d, %v; want a generation above %d", second, ok, first)
	}
	if gen := next(); gen != second {
		t.Errorf("completion carried generation %d, want %d", gen, second)
	}

	if _, err := s.Await(context.Background(), "A"); err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	if _, ok := s.Request("A"); ok {
		t.Error("cached scene should not be requested")
	}
	if _, ok := s.Request("missing"); ok {
		t.Error("unknown scene should not be requested")
	}
}

func TestSchedule_RespectsCacheBound(t *testing.T) {
	ids := []string{"current"}
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("n%d", i))
	}
	cache := texcache.New(3)
	loader := newFakeLoader()
	s := New(loader, cache, graphOf(ids...))
	defer s.Close()

	if _, err := s.Await(context.Background(), "current"); err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	s.SetCurrent("current")

	for _, id := range ids[1:] {
		s.Schedule(id)
	}
	waitFor(t, func() bool { return loader.total.Load() == int32(len(ids)) })
	for _, id := range ids[1:] {
		waitFor(t, func() bool { return !s.Pending(id) })
	}

	if cache.Len() > cache.Capacity() {
		t.Errorf("cache holds %d entries, capacity %d", cache.Len(), cache.Capacity())
	}
	if !cache.Contains("current") {
		t.Error("current scene was evicted")
	}
}

func TestClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	s := New(loader, texcache.New(4), graphOf("A", "B"))

	s.Schedule("A")
	s.Schedule("B")
	s.Close()

	if s.Schedule("A") {
		t.Error("expected Schedule after Close to be a no-op")
	}
	if _, err := s.Await(context.Background(), "B"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	s.Close()
}
