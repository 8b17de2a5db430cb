// Package rediskv caches key metadata (never key material) in Redis, so
// an admin surface can answer "which keys exist / are near expiry"
// without touching the keystore file's mutex on every request.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halyardsys/protogate/internal/keystore"
)

// Cache wraps a Redis client scoped to cached keystore.Metadata.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediskv: connecting: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func metaKey(id string) string { return "protogate:keymeta:" + id }

// PutMetadata caches m under its own id, refreshing the TTL.
func (c *Cache) PutMetadata(ctx context.Context, m keystore.Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("rediskv: marshal: %w", err)
	}
	return c.client.Set(ctx, metaKey(m.ID), data, c.ttl).Err()
}

// GetMetadata returns the cached metadata for id, or false if absent or expired.
func (c *Cache) GetMetadata(ctx context.Context, id string) (keystore.Metadata, bool, error) {
	data, err := c.client.Get(ctx, metaKey(id)).Result()
	if err == redis.Nil {
		return keystore.Metadata{}, false, nil
	}
	if err != nil {
		return keystore.Metadata{}, false, err
	}
	var m keystore.Metadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return keystore.Metadata{}, false, fmt.Errorf("rediskv: unmarshal: %w", err)
	}
	return m, true, nil
}

// Invalidate removes id from the cache, e.g. after rotation or deletion.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, metaKey(id)).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
