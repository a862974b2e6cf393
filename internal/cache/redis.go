package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mugisham37/cms-gateway/internal/observability"
)

// RedisCache is a Redis-backed Cache so multiple gateway instances can
// share one response cache.
type RedisCache struct {
	logger     observability.Logger
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration

	hits   int64
	misses int64
}

// RedisConfig holds Redis cache settings.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	DefaultTTL time.Duration
}

// NewRedisCache creates a Redis-backed cache and verifies connectivity.
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger observability.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gateway:cache:"
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("redis cache initialized",
		observability.String("addr", cfg.Addr),
		observability.Duration("defaultTTL", cfg.DefaultTTL))

	return &RedisCache{
		logger:     logger,
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// Get retrieves a value from the cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	atomic.AddInt64(&c.hits, 1)
	return value, nil
}

// Set stores a value in the cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err()
}

// Delete removes a value from the cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Clear removes all values under the cache prefix. Uses SCAN so it never
// blocks Redis the way KEYS would.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
