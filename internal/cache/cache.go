package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const dashboardKey = "questtab:dashboard"

// DashboardCache keeps the rendered dashboard JSON in Redis for a short
// TTL. A nil *DashboardCache is a valid no-op cache, so callers never
// branch on whether caching is configured.
type DashboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects a dashboard cache to the given Redis address.
func New(addr string, ttl time.Duration) *DashboardCache {
	return &DashboardCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Get returns the cached payload, or ok=false on miss or error. Cache
// errors are deliberately indistinguishable from misses; the caller
// falls through to the store either way.
func (c *DashboardCache) Get(ctx context.Context) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, dashboardKey).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores the rendered payload for the configured TTL.
func (c *DashboardCache) Set(ctx context.Context, payload []byte) {
	if c == nil {
		return
	}
	_ = c.client.Set(ctx, dashboardKey, payload, c.ttl).Err()
}

// Invalidate drops the cached dashboard after a status update.
func (c *DashboardCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	_ = c.client.Del(ctx, dashboardKey).Err()
}

// Ping verifies the Redis connection at startup.
func (c *DashboardCache) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("cache not configured")
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *DashboardCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
