package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig is a fixed window limit: at most RequestsPerWindow requests
// per key in each WindowDuration.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Validate reports a non-positive count or window.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultGlobalLimit applies to tour reads: 100 per minute per client.
func DefaultGlobalLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// DefaultSessionOpenLimit bounds session creation, which fetches a tour and
// decodes its first scene: 10 per minute per client.
func DefaultSessionOpenLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// DefaultInputLimit bounds pointer and camera input: 600 per minute per session.
func DefaultInputLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 600, WindowDuration: time.Minute}
}

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	// Allow counts one request for key. When it is over the limit, Allow
	// returns false and the seconds until the window resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, retryAfter int)
}

// retrySeconds rounds a remaining window up to whole seconds, minimum 1.
func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

type window struct {
	count int
	ends  time.Time
}

// InMemoryRateLimitStore keeps fixed window counters in process memory. It
// suits a single API replica; call Cleanup periodically to drop idle keys.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates an empty store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		windows: make(map[string]window),
		now:     time.Now,
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.ends) {
		s.windows[key] = window{count: 1, ends: now.Add(config.WindowDuration)}
		return true, 0
	}
	if w.count >= config.RequestsPerWindow {
		return false, retrySeconds(w.ends.Sub(now))
	}
	w.count++
	s.windows[key] = w
	return true, 0
}

// Cleanup drops expired windows and returns how many were removed.
func (s *InMemoryRateLimitStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.ends) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// RedisRateLimitStore shares fixed window counters between API replicas. It
// fails open when Redis is unavailable.
type RedisRateLimitStore struct {
	client  *redis.Client
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed store. metrics may be nil.
func NewRedisRateLimitStore(client *redis.Client, metrics *Metrics) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, metrics: metrics}
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	allowed, _, retryAfter := s.Check(ctx, key, config)
	return allowed, retryAfter
}

// Check counts a request against key and reports whether it is allowed, how
// many requests remain in the window and, when blocked, the seconds until
// the window resets.
func (s *RedisRateLimitStore) Check(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int) {
	redisKey := "panotour:ratelimit:" + key

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		s.failOpen(ctx, err)
		return true, config.RequestsPerWindow, 0
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, redisKey, config.WindowDuration).Err(); err != nil {
			s.failOpen(ctx, err)
			return true, config.RequestsPerWindow - 1, 0
		}
	}
	if int(count) <= config.RequestsPerWindow {
		return true, config.RequestsPerWindow - int(count), 0
	}

	ttl, err := s.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		// A key without expiry would block forever; restore the window.
		_ = s.client.PExpire(ctx, redisKey, config.WindowDuration).Err()
		ttl = config.WindowDuration
	}
	return false, 0, retrySeconds(ttl)
}

func (s *RedisRateLimitStore) failOpen(ctx context.Context, err error) {
	if s.metrics != nil {
		s.metrics.IncRateLimitRedisErrors()
	}
	slog.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IPKeyFunc keys requests by client address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		return "ip:" + clientIP(r)
	}
}

// SessionKeyFunc keys /sessions/{id}/... requests by viewer session id and
// everything else by client address.
func SessionKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/sessions/"); ok {
			if id, _, _ := strings.Cut(rest, "/"); id != "" {
				return "session:" + id
			}
		}
		return "ip:" + clientIP(r)
	}
}

// keyType is the metrics label for a rate limit key.
func keyType(key string) string {
	t, _, _ := strings.Cut(key, ":")
	return t
}

// RateLimiter rejects requests over config with 429 and a Retry-After header.
// metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			route, kind := normalizePath(r.URL.Path), keyType(key)
			if metrics != nil {
				metrics.IncRateLimitRequests(route, kind)
			}

			allowed, retryAfter := store.Allow(r.Context(), key, config)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.IncRateLimitBlocked(route, kind)
			}
			reset := time.Now().Add(time.Duration(retryAfter) * time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			reject(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests, retry after "+strconv.Itoa(retryAfter)+"s")
		})
	}
}
