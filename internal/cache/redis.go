package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/flowos/pkg/schema"
)

const redisKeyPrefix = "flowos:conversion:"

// RedisCache stores results in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
// A zero ttl keeps entries until Redis evicts them.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("cache: redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*schema.ConversionResult, bool, error) {
	b, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	res, err := decode(b)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, res *schema.ConversionResult) error {
	b, err := encode(res)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Evict(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
