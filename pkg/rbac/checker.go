package rbac

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Checker answers dynamic permission questions for a user
type Checker interface {
	// CheckPermission reports whether the user's roles grant resource:action.
	// The static account role is never consulted.
	CheckPermission(ctx context.Context, userID int64, resource, action string) bool

	// Permissions returns the user's effective dynamic permission set
	Permissions(ctx context.Context, userID int64) PermissionSet

	// InvalidateUser drops one user's cached permissions
	InvalidateUser(ctx context.Context, userID int64) error

	// InvalidateAll drops every cached permission set
	InvalidateAll(ctx context.Context) error
}

// PermissionChecker implements Checker with a cache in front of a Resolver.
// Concurrent misses for the same user share one resolution.
type PermissionChecker struct {
	resolver *Resolver
	cache    PermissionCache
	log      *logrus.Logger
	group    singleflight.Group

	// epoch advances on every invalidation; a resolution that started
	// in an older epoch is returned to its callers but never cached.
	// mu orders the epoch check and cache write against invalidations.
	mu    sync.Mutex
	epoch atomic.Uint64
}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker(resolver *Resolver, cache PermissionCache, log *logrus.Logger) *PermissionChecker {
	if log == nil {
		log = logrus.New()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &PermissionChecker{
		resolver: resolver,
		cache:    cache,
		log:      log,
	}
}

// CheckPermission checks if a user's dynamic roles grant a permission
func (pc *PermissionChecker) CheckPermission(ctx context.Context, userID int64, resource, action string) bool {
	return pc.Permissions(ctx, userID).Has(PermissionKey(resource, action))
}

// Permissions returns the cached set, resolving and caching it on a miss.
// If ctx ends while waiting, the empty set is returned and the shared
// resolution still completes and populates the cache. A failed graph read
// is returned as the empty set and never cached.
func (pc *PermissionChecker) Permissions(ctx context.Context, userID int64) PermissionSet {
	if perms, ok := pc.cache.Get(ctx, userID); ok {
		return perms
	}

	epoch := pc.epoch.Load()
	detached := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%d@%d", userID, epoch)

	ch := pc.group.DoChan(key, func() (interface{}, error) {
		return pc.resolveAndStore(detached, userID, epoch), nil
	})

	select {
	case res := <-ch:
		return res.Val.(PermissionSet)
	case <-ctx.Done():
		pc.log.WithField("user_id", userID).Debug("permission lookup abandoned by caller")
		return NewPermissionSet()
	}
}

func (pc *PermissionChecker) resolveAndStore(ctx context.Context, userID int64, epoch uint64) PermissionSet {
	versioned, ok := pc.cache.(VersionedCache)
	if !ok {
		perms, err := pc.resolver.resolve(ctx, userID)
		if err != nil {
			return perms
		}
		pc.mu.Lock()
		defer pc.mu.Unlock()
		if pc.epoch.Load() == epoch {
			pc.cache.Set(ctx, userID, perms)
		}
		return perms
	}

	// the version must be read before the graph so that any invalidation
	// committed after the read is seen by SetIfVersion
	version, err := versioned.Version(ctx, userID)
	if err != nil {
		pc.log.WithError(err).WithField("user_id", userID).Warn("permission cache version unavailable, not caching")
		return pc.resolver.Resolve(ctx, userID)
	}
	perms, err := pc.resolver.resolve(ctx, userID)
	if err != nil {
		return perms
	}
	if pc.epoch.Load() != epoch {
		return perms
	}
	applied, err := versioned.SetIfVersion(ctx, userID, perms, version)
	if err != nil {
		pc.log.WithError(err).WithField("user_id", userID).Warn("permission cache write failed")
	} else if !applied {
		pc.log.WithField("user_id", userID).Debug("permission cache write skipped, invalidated during resolve")
	}
	return perms
}

// InvalidateUser drops one user's cached permissions
func (pc *PermissionChecker) InvalidateUser(ctx context.Context, userID int64) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.epoch.Add(1)
	if err := pc.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate cache for user %d: %w", userID, err)
	}
	return nil
}

// InvalidateAll drops every cached permission set
func (pc *PermissionChecker) InvalidateAll(ctx context.Context) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.epoch.Add(1)
	if err := pc.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}
