package proc

import (
	"context"
	"sync"
	"time"
)

// CachedCounter wraps a Counter with a TTL snapshot. Process-table scans
// are the one latency point in the reuse decision path; status endpoints
// poll frequently and are happy with a slightly stale count, while
// end-of-build decisions call Refresh for a fresh one.
//
// Safe for concurrent use.
type CachedCounter struct {
	inner Counter
	ttl   time.Duration

	mu        sync.Mutex
	count     int
	scannedAt time.Time
}

// NewCachedCounter wraps inner with the given TTL. A TTL <= 0 disables
// caching entirely: every call scans.
func NewCachedCounter(inner Counter, ttl time.Duration) *CachedCounter {
	return &CachedCounter{inner: inner, ttl: ttl}
}

// CountWorkers returns the cached count if it is younger than the TTL,
// otherwise scans and refills the cache. A failed scan does not poison a
// still-valid cache entry; with an expired cache the error is returned.
func (c *CachedCounter) CountWorkers(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl > 0 && !c.scannedAt.IsZero() && time.Since(c.scannedAt) < c.ttl {
		return c.count, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh bypasses the cache, scans now, and stores the result.
func (c *CachedCounter) Refresh(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *CachedCounter) refreshLocked(ctx context.Context) (int, error) {
	count, err := c.inner.CountWorkers(ctx)
	if err != nil {
		return 0, err
	}
	c.count = count
	c.scannedAt = time.Now()
	return count, nil
}
