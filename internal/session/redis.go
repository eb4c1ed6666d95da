package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for session views.
	redisKeyPrefix = "coach:session:"
	// DefaultTTL expires idle session views after a day.
	DefaultTTL = 24 * time.Hour
)

// RedisCache implements Cache on Redis so several processes can share
// session views. Keys expire after the TTL, refreshed on every read.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, userID, sessionID string) (*Entry, bool, error) {
	key := c.key(userID, sessionID)
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, false, fmt.Errorf("decode cached session %s: %w", key, err)
	}

	// Refresh TTL on read
	if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to refresh session ttl", "key", key, "error", err)
	}
	return &e, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, e *Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := c.key(e.UserID, e.SessionID)
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, userID, sessionID string) error {
	key := c.key(userID, sessionID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(userID, sessionID string) string {
	return redisKeyPrefix + Key(userID, sessionID)
}
