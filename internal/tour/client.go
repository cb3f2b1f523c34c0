package tour

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/panotour/internal/tracing"
)

// Project API client errors.
var (
	ErrTourNotFound       = errors.New("tour not found")
	ErrProjectUnavailable = errors.New("project api unavailable")
)

// maxDocumentSize bounds a tour document read from the Project API.
const maxDocumentSize = 4 << 20

// Source yields tours by id.
type Source interface {
	Fetch(ctx context.Context, tourID string) (*Tour, error)
}

// ClientConfig configures a Project API client.
type ClientConfig struct {
	// BaseURL of the Project API; tours are read from {BaseURL}/project/{id}.
	BaseURL string
	// AssetBaseURL resolves relative asset paths in tour documents.
	AssetBaseURL string
	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
	// Redis enables the document cache when non-nil.
	Redis *redis.Client
	// CacheTTL is how long raw documents stay cached. Zero disables caching.
	CacheTTL time.Duration
}

// Client fetches tour documents from the Project API behind a circuit breaker.
type Client struct {
	base     string
	opts     DecodeOptions
	http     *http.Client
	rdb      *redis.Client
	cacheTTL time.Duration
	cb       *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a Project API client.
func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "project-api",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing tour is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrTourNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		base:     strings.TrimSuffix(cfg.BaseURL, "/"),
		opts:     DecodeOptions{AssetBaseURL: cfg.AssetBaseURL},
		http:     hc,
		rdb:      cfg.Redis,
		cacheTTL: cfg.CacheTTL,
		cb:       cb,
	}
}

// Fetch loads and decodes a tour. Cached documents are served without
// touching the Project API.
func (c *Client) Fetch(ctx context.Context, tourID string) (t *Tour, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "tour.fetch")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, attribute.String("tour.id", tourID))

	if strings.TrimSpace(tourID) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrTourNotFound)
	}

	raw, cached := c.cacheGet(ctx, tourID)
	if !cached {
		raw, err = c.cb.Execute(func() ([]byte, error) {
			return c.get(ctx, tourID)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: %v", ErrProjectUnavailable, err)
			}
			return nil, err
		}
	}

	t, err = Decode(bytes.NewReader(raw), c.opts)
	if err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = tourID
	}
	if !cached {
		c.cacheSet(ctx, tourID, raw)
	}
	return t, nil
}

// Invalidate drops a cached document, e.g. after an authoring edit.
func (c *Client) Invalidate(ctx context.Context, tourID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, cacheKey(tourID)).Err()
}

func (c *Client) get(ctx context.Context, tourID string) (raw []byte, err error) {
	endpoint := c.base + "/project/" + url.PathEscape(tourID)
	ctx, endSpan := tracing.StartClientSpan(ctx, tracing.PeerProjectAPI, "fetch_tour", endpoint)
	defer func() { endSpan(err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTourNotFound, tourID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrProjectUnavailable, resp.StatusCode)
	}

	raw, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read tour document: %w", err)
	}
	return raw, nil
}

func cacheKey(tourID string) string {
	return "panotour:tour:" + tourID
}

func (c *Client) cacheGet(ctx context.Context, tourID string) ([]byte, bool) {
	if c.rdb == nil || c.cacheTTL <= 0 {
		return nil, false
	}
	ctx, endSpan := tracing.StartClientSpan(ctx, tracing.PeerRedis, "get", cacheKey(tourID))
	raw, err := c.rdb.Get(ctx, cacheKey(tourID)).Bytes()
	if errors.Is(err, redis.Nil) {
		endSpan(nil)
	} else {
		endSpan(err)
	}
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "tour cache get failed", "tour_id", tourID, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *Client) cacheSet(ctx context.Context, tourID string, raw []byte) {
	if c.rdb == nil || c.cacheTTL <= 0 {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(tourID), raw, c.cacheTTL).Err(); err != nil {
		slog.WarnContext(ctx, "tour cache set failed", "tour_id", tourID, "error", err)
	}
}
