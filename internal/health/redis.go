// Package health provides readiness probes for the viewer service's
// upstream dependencies.
package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/panotour/internal/tracing"
)

const (
	redisProbeKey = "panotour:health:probe"
	redisProbeTTL = 30 * time.Second
)

// RedisChecker probes the Redis instance behind the tour cache, rate
// limits and idempotency records. All three write, so a reachable but
// read-only Redis counts as unhealthy.
type RedisChecker struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisChecker creates a checker with a 2s probe timeout.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client, timeout: 2 * time.Second}
}

// HealthCheck writes a short-lived stamp under the service's key prefix and
// reads it back in one transaction.
func (r *RedisChecker) HealthCheck(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, endSpan := tracing.StartClientSpan(ctx, tracing.PeerRedis, "probe", redisProbeKey)
	defer func() { endSpan(err) }()

	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	var get *redis.StringCmd
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisProbeKey, stamp, redisProbeTTL)
		get = p.Get(ctx, redisProbeKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis probe failed: %w", err)
	}
	if got := get.Val(); got != stamp {
		return fmt.Errorf("redis probe read back %q, want %q", got, stamp)
	}
	return nil
}
