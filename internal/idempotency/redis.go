package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "panotour:idempotency:"

// RedisRepository implements Repository on Redis so replicas share stored
// responses. Records expire through the key TTL.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-backed repository. A non-positive ttl
// uses DefaultExpiry.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{client: client, ttl: ttl}
}

// Get implements Repository.
func (r *RedisRepository) Get(ctx context.Context, route, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+scopedKey(route, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis get: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &record, nil
}

// Store implements Repository.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+scopedKey(record.Route, record.Key), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}
