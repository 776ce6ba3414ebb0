package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisCache stores entries in Redis. A nil client is valid and behaves like
// an unreachable server.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisClient parses redisURL and pings the server. It returns a nil client
// and the error when Redis cannot be reached so callers can run uncached.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "cache get failed", "key", key, "err", err)
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "err", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, keys KeySet) {
	if c.client == nil || keys.Empty() {
		return
	}
	if exact := keys.Keys(); len(exact) > 0 {
		if err := c.client.Del(ctx, exact...).Err(); err != nil {
			c.logger.WarnContext(ctx, "cache invalidate failed", "keys", exact, "err", err)
		}
	}
	for _, pattern := range keys.Patterns() {
		if err := c.deletePattern(ctx, pattern); err != nil {
			c.logger.WarnContext(ctx, "cache pattern invalidate failed", "pattern", pattern, "err", err)
		}
	}
}

func (c *RedisCache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping reports whether the backend is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return errors.New("cache disabled")
	}
	return c.client.Ping(ctx).Err()
}
