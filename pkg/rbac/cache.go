package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/permgate/pkg/observability"
)

const (
	// DefaultCacheTTL is how long a resolved permission set stays fresh
	DefaultCacheTTL = 300000 * time.Millisecond

	// DefaultCacheSize bounds the number of users held by MemoryCache
	DefaultCacheSize = 10000
)

// PermissionCache maps a user ID to its resolved permission set.
// Implementations must be safe for concurrent use and must never
// return an entry older than their TTL.
type PermissionCache interface {
	// Get returns the cached set, or false when absent or stale
	Get(ctx context.Context, userID int64) (PermissionSet, bool)

	// Set stores a set, overwriting any previous entry
	Set(ctx context.Context, userID int64, perms PermissionSet)

	// Invalidate removes exactly one user's entry
	Invalidate(ctx context.Context, userID int64) error

	// InvalidateAll removes every entry
	InvalidateAll(ctx context.Context) error
}

// VersionedCache is a PermissionCache shared between processes. Every
// invalidation advances a version, and a write is applied only if the
// version it was read under is still current, so a resolution that raced
// an invalidation in another process is never stored.
type VersionedCache interface {
	PermissionCache

	// Version returns an opaque token naming the user's current cache generation
	Version(ctx context.Context, userID int64) (string, error)

	// SetIfVersion stores perms only while version is current and reports
	// whether the write was applied
	SetIfVersion(ctx context.Context, userID int64, perms PermissionSet, version string) (bool, error)
}

type cacheEntry struct {
	permissions PermissionSet
	createdAt   time.Time
}

// MemoryCache is an in-process PermissionCache backed by an expiring LRU.
// Freshness is re-checked against the entry timestamp on every read,
// so a stale entry is a miss even before the LRU sweeps it.
type MemoryCache struct {
	entries *expirable.LRU[int64, cacheEntry]
	ttl     time.Duration
	size    int
	now     func() time.Time
	metrics *observability.Metrics
}

// MemoryCacheOption configures a MemoryCache
type MemoryCacheOption func(*MemoryCache)

// WithCacheTTL sets the entry time-to-live
func WithCacheTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheSize sets the maximum number of cached users
func WithCacheSize(size int) MemoryCacheOption {
	return func(c *MemoryCache) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithCacheClock overrides the clock used to stamp and age entries
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithCacheMetrics records hits, misses and invalidations
func WithCacheMetrics(metrics *observability.Metrics) MemoryCacheOption {
	return func(c *MemoryCache) { c.metrics = metrics }
}

// NewMemoryCache creates an in-process permission cache
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		ttl:  DefaultCacheTTL,
		size: DefaultCacheSize,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = expirable.NewLRU[int64, cacheEntry](c.size, nil, c.ttl)
	return c
}

// Get returns the cached set if it is younger than the TTL
func (c *MemoryCache) Get(_ context.Context, userID int64) (PermissionSet, bool) {
	entry, ok := c.entries.Get(userID)
	if !ok {
		c.metrics.RecordCacheMiss("memory")
		return nil, false
	}
	if c.now().Sub(entry.createdAt) >= c.ttl {
		c.entries.Remove(userID)
		c.metrics.RecordCacheMiss("memory")
		return nil, false
	}
	c.metrics.RecordCacheHit("memory")
	return entry.permissions, true
}

// Set stores a freshly resolved set
func (c *MemoryCache) Set(_ context.Context, userID int64, perms PermissionSet) {
	c.entries.Add(userID, cacheEntry{permissions: perms, createdAt: c.now()})
}

// Invalidate removes a single user's entry
func (c *MemoryCache) Invalidate(_ context.Context, userID int64) error {
	c.entries.Remove(userID)
	c.metrics.RecordInvalidation("memory", "user")
	return nil
}

// InvalidateAll drops every entry
func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.entries.Purge()
	c.metrics.RecordInvalidation("memory", "all")
	return nil
}

// Len returns the number of entries currently held, fresh or not
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
