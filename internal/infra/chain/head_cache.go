package chain

import (
	"context"
	"sync"
	"time"
)

// HeadCache is a Reader that caches LatestBlock for a short TTL so the
// scanner and the health monitor share one head lookup.
type HeadCache struct {
	Reader
	ttl time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache wraps reader with a head cache.
func NewHeadCache(reader Reader, ttl time.Duration) *HeadCache {
	return &HeadCache{
		Reader: reader,
		ttl:    ttl,
	}
}

// LatestBlock returns the cached head if within TTL, otherwise fetches fresh.
func (c *HeadCache) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.Reader.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate forces the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
