package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/shared/logging"
)

// RedisCache is a JSON value cache backed by Redis. Failures are logged and
// reported as misses; the cache never fails a request.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache connects using a redis:// URL and verifies the connection.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	c := NewWithClient(client, ttl)
	c.logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Dur("ttl", ttl).Msg("connected to Redis cache")
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logging.WithComponent("cache"),
	}
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		c.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	return true
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache value not encodable")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Stats returns hit and miss counts since creation.
func (c *RedisCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
