// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"

	"github.com/onnwee/panotour/internal/config"
	"github.com/onnwee/panotour/internal/middleware"
)

const lobbyManifest = `{"path":"/%l/%s%y_%x","extension":"jpg","tileResolution":512,"maxLevel":3,"cubeResolution":2048}`

// upstreams fakes the Project API and the asset store.
type upstreams struct {
	project     *httptest.Server
	assets      *httptest.Server
	projectHits atomic.Int32
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}
	u.assets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tiles/42/lobby/config.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(lobbyManifest))
			return
		}
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(u.assets.Close)

	doc := fmt.Sprintf(`{
		"projectId": 42,
		"title": "Harbour walk",
		"scenes": [
			{"id": "lobby", "isFirst": true, "multiResManifestUrl": %q,
			 "hotspots": [{"pitch": 0, "yaw": 0, "targetSceneId": "cellar"}]}
		]
	}`, u.assets.URL+"/tiles/42/lobby/config.json")

	u.project = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/project/42" {
			u.projectHits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(doc))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(u.project.Close)
	return u
}

func (u *upstreams) config() *config.Config {
	return &config.Config{
		Port:                0,
		Env:                 "test",
		ProjectAPIURL:       u.project.URL,
		AssetBaseURL:        u.assets.URL,
		TourCacheTTLSeconds: 60,
		LoadTimeoutSeconds:  5,
		TextureCacheSize:    config.DefaultTextureCacheSize,
		TransitionMS:        20,
		FrameRate:           120,
		SessionIdleMinutes:  30,
		MaxSessions:         10,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*app, *bytes.Buffer) {
	t.Helper()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, &logBuf
}

func serve(h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.10:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestApp_Routes(t *testing.T) {
	u := newUpstreams(t)
	a, _ := newTestApp(t, u.config())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"root", http.MethodGet, "/", http.StatusOK, `"service":"panotour-api"`},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound, `"code":"not_found"`},
		{"liveness", http.MethodGet, "/health", http.StatusOK, `"status"`},
		{"readiness", http.MethodGet, "/ready", http.StatusOK, `"project_api":"ok"`},
		{"tour", http.MethodGet, "/tours/42", http.StatusOK, `"first_scene_id":"lobby"`},
		{"warnings", http.MethodGet, "/tours/42/warnings", http.StatusOK, `"dangling_hotspot"`},
		{"missing tour", http.MethodGet, "/tours/7", http.StatusNotFound, `"code":"tour_not_found"`},
		{"missing session", http.MethodGet, "/sessions/unknown", http.StatusNotFound, `"code":"session_not_found"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(a.handler, tt.method, tt.path, nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("%s %s = %d, want %d (body %s)", tt.method, tt.path, rr.Code, tt.wantStatus, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rr.Body.String(), tt.wantBody)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestApp_Metrics(t *testing.T) {
	u := newUpstreams(t)
	a, _ := newTestApp(t, u.config())

	serve(a.handler, http.MethodGet, "/tours/42", nil)

	rr := serve(a.handler, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"panotour_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
	if !strings.Contains(body, `path="/tours/{id}"`) {
		t.Error("expected the tour route to be recorded with a normalized path")
	}
}

func TestApp_SessionLifecycle(t *testing.T) {
	u := newUpstreams(t)
	a, _ := newTestApp(t, u.config())

	rr := serve(a.handler, http.MethodPost, "/tours/42/sessions", strings.NewReader(`{"width":800,"height":600}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("open session = %d: %s", rr.Code, rr.Body.String())
	}
	location := rr.Header().Get("Location")
	if !strings.HasPrefix(location, "/sessions/") {
		t.Fatalf("unexpected Location %q", location)
	}

	var snap struct {
		TourID string `json:"tour_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.TourID != "42" {
		t.Errorf("tour_id = %q, want 42", snap.TourID)
	}
	if a.manager.Len() != 1 {
		t.Errorf("expected 1 managed session, got %d", a.manager.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = serve(a.handler, http.MethodGet, location, nil)
		if strings.Contains(rr.Body.String(), `"scene_id":"lobby"`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first scene never committed: %s", rr.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rr := serve(a.handler, http.MethodDelete, location, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete session = %d", rr.Code)
	}
	if rr := serve(a.handler, http.MethodGet, location, nil); rr.Code != http.StatusNotFound {
		t.Errorf("deleted session = %d, want 404", rr.Code)
	}
}

func TestApp_RedisBacked(t *testing.T) {
	mr := miniredis.RunT(t)
	u := newUpstreams(t)
	cfg := u.config()
	cfg.RedisURL = "redis://" + mr.Addr()
	a, _ := newTestApp(t, cfg)

	for i := 0; i < 3; i++ {
		if rr := serve(a.handler, http.MethodGet, "/tours/42", nil); rr.Code != http.StatusOK {
			t.Fatalf("GET /tours/42 = %d", rr.Code)
		}
	}
	if hits := u.projectHits.Load(); hits != 1 {
		t.Errorf("expected the tour cache to absorb repeat reads, got %d upstream hits", hits)
	}

	rr := serve(a.handler, http.MethodGet, "/ready", nil)
	if !strings.Contains(rr.Body.String(), `"redis":"ok"`) {
		t.Errorf("readiness missing redis check: %s", rr.Body.String())
	}

	mr.Close()
	if rr := serve(a.handler, http.MethodGet, "/ready", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness with redis down = %d, want 503", rr.Code)
	}
}

func TestNewApp_Errors(t *testing.T) {
	u := newUpstreams(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"incomplete R2 config", func(c *config.Config) { c.R2BucketName = "tours" }},
		{"invalid redis URL", func(c *config.Config) { c.RedisURL = "mysql://localhost" }},
		{"unreachable redis", func(c *config.Config) { c.RedisURL = "redis://127.0.0.1:1" }},
		{"bad sample rate", func(c *config.Config) {
			c.TracingEnabled = true
			c.TracingSampleRate = 2
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := u.config()
			tt.mutate(cfg)
			if a, err := newApp(context.Background(), cfg, logger); err == nil {
				a.Close(context.Background())
				t.Fatal("expected newApp() to fail")
			}
		})
	}
}

// TestGracefulShutdown serves the app on a real listener, then shuts it
// down the way main does.
func TestGracefulShutdown(t *testing.T) {
	u := newUpstreams(t)
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	a, err := newApp(context.Background(), u.config(), logger)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	server := &http.Server{Handler: a.handler, ReadTimeout: 15 * time.Second}

	serverStopped := make(chan struct{})
	go func() {
		defer close(serverStopped)
		logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
	}()

	base := "http://" + ln.Addr().String()
	resp, err := http.Post(base+"/tours/42/sessions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session = %d", resp.StatusCode)
	}

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("server shutdown error: %v", err)
	}
	a.Close(ctx)
	logger.Info("server stopped")

	select {
	case <-serverStopped:
	case <-time.After(5 * time.Second):
		t.Fatal("server failed to stop in time")
	}

	if n := a.manager.Len(); n != 0 {
		t.Errorf("expected sessions closed on shutdown, got %d", n)
	}

	// Verify log order
	logs := logBuf.String()
	startIdx := strings.Index(logs, "starting server")
	shutdownIdx := strings.Index(logs, "shutting down server")
	sessionsIdx := strings.Index(logs, "viewer sessions shut down")
	stoppedIdx := strings.Index(logs, "server stopped")
	if startIdx == -1 || shutdownIdx == -1 || stoppedIdx == -1 {
		t.Fatalf("missing lifecycle log lines: %s", logs)
	}
	if !(startIdx < shutdownIdx && shutdownIdx < stoppedIdx) {
		t.Error("expected start, shutdown and stop to be logged in order")
	}
	if sessionsIdx != -1 && sessionsIdx < shutdownIdx {
		t.Error("sessions were shut down before the server")
	}
}

func TestApp_IdempotentSessionOpen(t *testing.T) {
	u := newUpstreams(t)
	a, _ := newTestApp(t, u.config())

	open := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/tours/42/sessions", strings.NewReader(`{"width":800,"height":600}`))
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set(middleware.IdempotencyKeyHeader, key)
		rr := httptest.NewRecorder()
		a.handler.ServeHTTP(rr, req)
		return rr
	}

	first := open("open-42-a")
	retry := open("open-42-a")
	other := open("open-42-b")

	for _, rr := range []*httptest.ResponseRecorder{first, retry, other} {
		if rr.Code != http.StatusCreated {
			t.Fatalf("open session = %d: %s", rr.Code, rr.Body.String())
		}
	}
	if retry.Header().Get("Location") != first.Header().Get("Location") {
		t.Errorf("retry Location = %q, want %q", retry.Header().Get("Location"), first.Header().Get("Location"))
	}
	if retry.Header().Get(middleware.IdempotentReplayedHeader) != "true" {
		t.Error("retry was not marked as replayed")
	}
	if other.Header().Get("Location") == first.Header().Get("Location") {
		t.Error("a new key reused the first session")
	}
	if a.manager.Len() != 2 {
		t.Errorf("expected 2 managed sessions, got %d", a.manager.Len())
	}
}
