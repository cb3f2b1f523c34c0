// Package main is the entry point for the panotour viewer API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/panotour/internal/api"
	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/audio"
	"github.com/onnwee/panotour/internal/config"
	"github.com/onnwee/panotour/internal/health"
	"github.com/onnwee/panotour/internal/idempotency"
	"github.com/onnwee/panotour/internal/jobs"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/stream"
	"github.com/onnwee/panotour/internal/texcache"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/tracing"
	"github.com/onnwee/panotour/internal/viewer"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (environment variables take precedence)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("panotour viewer API server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			slog.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	port := strconv.Itoa(cfg.Port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		a.Close(ctx)
		os.Exit(1)
	}
	a.Close(ctx)

	logger.Info("server stopped")
}

// app is the wired viewer service.
type app struct {
	handler http.Handler

	manager *viewer.Manager
	loader  *assets.Loader
	redis   *redis.Client
	tracer  *tracing.Provider
	cancel  context.CancelFunc
}

// newApp builds every component from cfg. Background workers run until Close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = newRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			_ = tracer.Shutdown(ctx)
			return nil, err
		}
	}

	store, err := newAssetStore(cfg)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics()
	viewerMetrics := viewer.NewMetrics()
	assetMetrics := assets.NewMetrics()
	cacheMetrics := texcache.NewMetrics()
	streamMetrics := stream.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, m := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, viewerMetrics, assetMetrics, cacheMetrics, streamMetrics, jobMetrics} {
		if err := m.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	tours := tour.NewClient(tour.ClientConfig{
		BaseURL:      cfg.ProjectAPIURL,
		AssetBaseURL: cfg.AssetBaseURL,
		Redis:        rdb,
		CacheTTL:     cfg.TourCacheTTL(),
	})

	loader := assets.NewLoader(assets.LoaderConfig{
		Store:       store,
		Timeout:     cfg.LoadTimeout(),
		MaxFaceSize: cfg.MaxFaceSize,
		Metrics:     assetMetrics,
	})

	broadcaster := stream.NewEventBroadcaster(streamMetrics)
	manager := viewer.NewManager(viewer.Deps{
		Config: viewer.Config{
			TransitionDuration: cfg.TransitionDuration(),
			CacheCapacity:      cfg.TextureCacheSize,
		},
		Loader:       loader,
		Store:        store,
		LoadTimeout:  cfg.LoadTimeout(),
		MaxFaceSize:  cfg.MaxFaceSize,
		Player:       audio.NewHTTPPlayer(nil),
		Metrics:      viewerMetrics,
		AssetMetrics: assetMetrics,
		CacheMetrics: cacheMetrics,
	}, viewer.ManagerConfig{
		IdleTimeout: cfg.SessionIdleTimeout(),
		FPS:         cfg.FrameRate,
		MaxSessions: cfg.MaxSessions,
		JobMetrics:  jobMetrics,
	}, broadcaster)

	workerCtx, cancel := context.WithCancel(context.Background())
	manager.Start(workerCtx)

	// Rate limits and idempotency records are shared across replicas when
	// Redis is configured.
	var limitStore middleware.RateLimitStore
	var idemRepo idempotency.Repository
	if rdb != nil {
		limitStore = middleware.NewRedisRateLimitStore(rdb, httpMetrics)
		idemRepo = idempotency.NewRedisRepository(rdb, idempotency.DefaultExpiry)
	} else {
		memRepo := idempotency.NewInMemoryRepository()
		go jobs.Every(workerCtx, 10*time.Minute, jobs.JobTypeIdempotencyCleanup, jobMetrics, func(context.Context) error {
			idempotency.CleanupOldKeys(memRepo, idempotency.DefaultExpiry)
			return nil
		})
		idemRepo = memRepo

		memStore := middleware.NewInMemoryRateLimitStore()
		go jobs.Every(workerCtx, time.Minute, jobs.JobTypeRateLimitCleanup, jobMetrics, func(context.Context) error {
			memStore.Cleanup()
			return nil
		})
		limitStore = memStore
	}

	checkers := []api.NamedChecker{
		{Name: "asset_store", Checker: store},
		{Name: "project_api", Checker: health.NewHTTPChecker(cfg.ProjectAPIURL, nil)},
	}
	if rdb != nil {
		checkers = append(checkers, api.NamedChecker{Name: "redis", Checker: health.NewRedisChecker(rdb)})
	}

	mux := newRouter(routes{
		health: api.NewHealthHandlers(api.HealthHandlersConfig{
			Checkers:       checkers,
			MetricsEnabled: true,
		}),
		tours:      api.NewTourHandlers(tours),
		sessions:   api.NewSessionHandlers(tours, manager),
		websocket:  api.NewSessionWebSocketHandlers(manager, broadcaster, cfg.AllowedOrigins),
		registry:   registry,
		tourLimit:  middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc(), httpMetrics),
		openLimit:  middleware.RateLimiter(limitStore, middleware.DefaultSessionOpenLimit(), middleware.IPKeyFunc(), httpMetrics),
		inputLimit: middleware.RateLimiter(limitStore, middleware.DefaultInputLimit(), middleware.SessionKeyFunc(), httpMetrics),
		idempotent: middleware.Idempotency(idemRepo),
	})

	return &app{
		handler: withMiddleware(mux, logger, httpMetrics, cfg.AllowedOrigins),
		manager: manager,
		loader:  loader,
		redis:   rdb,
		tracer:  tracer,
		cancel:  cancel,
	}, nil
}

// Close stops background workers, tears down viewer sessions and flushes traces.
func (a *app) Close(ctx context.Context) {
	a.cancel()
	a.manager.Shutdown()
	a.loader.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down tracing", "error", err)
	}
}

func newAssetStore(cfg *config.Config) (assets.Store, error) {
	if !cfg.R2Configured() {
		return assets.NewHTTPStore(nil, cfg.AssetBaseURL), nil
	}
	store, err := assets.NewS3Store(assets.S3StoreConfig{
		BucketName:      cfg.R2BucketName,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		Endpoint:        cfg.R2Endpoint,
		BaseURL:         cfg.AssetBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create R2 asset store: %w", err)
	}
	return store, nil
}

func newRedisClient(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	logger.Info("redis client connected", "addr", opts.Addr)
	return client, nil
}
