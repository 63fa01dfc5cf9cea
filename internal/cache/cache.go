// Package cache provides a small Redis-backed response cache for the read
// endpoints.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a cached response stays valid.
const DefaultTTL = time.Minute

// Cache stores rendered responses in Redis. A nil *Cache is a no-op, so
// callers can run without Redis configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// New creates a new Cache on an existing Redis client.
func New(client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached bytes for key, or ok=false on miss or error.
// Cache failures are logged, never surfaced; the caller falls through to
// the real data path.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("Cache get %s: %v", key, err)
		return nil, false
	}
	return data, true
}

// Set stores the bytes under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Printf("Cache set %s: %v", key, err)
	}
}

// Ping verifies the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
