package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/async"
	"github.com/platinummonkey/permgate/pkg/audit"
	"github.com/platinummonkey/permgate/pkg/observability"
)

// warmWorkers bounds concurrent graph reads during WarmCache
const warmWorkers = 8

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long a resolved permission set is served from cache
	CacheTTL time.Duration

	// CacheSize bounds the in-memory cache; ignored when a cache is supplied
	CacheSize int
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:  DefaultCacheTTL,
		CacheSize: DefaultCacheSize,
	}
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger shared by every component
func WithLogger(log *logrus.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithCache replaces the default in-memory cache, e.g. with a RedisCache
func WithCache(cache PermissionCache) ManagerOption {
	return func(m *Manager) { m.cache = cache }
}

// WithAuditLogger records graph mutations and gate denials
func WithAuditLogger(logger audit.Logger) ManagerOption {
	return func(m *Manager) { m.audit = logger }
}

type migrator interface {
	Migrate(ctx context.Context, log *logrus.Logger) error
}

// Manager wires the store, cache, checker, gate and middleware together and
// keeps the cache coherent with graph mutations
type Manager struct {
	store      GraphStore
	cache      PermissionCache
	resolver   *Resolver
	checker    *PermissionChecker
	gate       *Gate
	middleware *PermissionMiddleware
	config     Config
	log        *logrus.Logger
	metrics    *observability.Metrics
	audit      audit.Logger
}

// NewManager creates a new RBAC manager
func NewManager(store GraphStore, config Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		config: config,
		log:    logrus.New(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cache == nil {
		m.cache = NewMemoryCache(
			WithCacheTTL(config.CacheTTL),
			WithCacheSize(config.CacheSize),
			WithCacheMetrics(m.metrics),
		)
	}

	m.resolver = NewResolver(store, m.log, m.metrics)
	m.checker = NewPermissionChecker(m.resolver, m.cache, m.log)
	m.gate = NewGate(m.checker, m.log, m.metrics, WithGateAudit(m.audit))
	m.middleware = NewPermissionMiddleware(m.gate, m.log)
	return m
}

// Initialize runs schema migrations when the store supports them
func (m *Manager) Initialize(ctx context.Context) error {
	mig, ok := m.store.(migrator)
	if !ok {
		return nil
	}
	if err := mig.Migrate(ctx, m.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Store returns the graph store
func (m *Manager) Store() GraphStore {
	return m.store
}

// Checker returns the permission checker
func (m *Manager) Checker() *PermissionChecker {
	return m.checker
}

// Gate returns the authorization gate
func (m *Manager) Gate() *Gate {
	return m.gate
}

// AuditLogger returns the audit logger, or nil when none is configured
func (m *Manager) AuditLogger() audit.Logger {
	return m.audit
}

// Middleware returns the HTTP permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// CheckPermission reports whether the user's dynamic roles grant resource:action
func (m *Manager) CheckPermission(ctx context.Context, userID int64, resource, action string) bool {
	return m.checker.CheckPermission(ctx, userID, resource, action)
}

// AssignRoleToUser links a role to a user and drops that user's cached permissions
func (m *Manager) AssignRoleToUser(ctx context.Context, userID, roleID int64) error {
	if err := m.store.FindOrCreateUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "role_id": roleID}).Info("role assigned to user")
	m.recordMutation(ctx, audit.EventTypeAuthzRoleChange, audit.ResourceTypeUser, userID,
		&audit.ChangeDetails{After: map[string]interface{}{"role_id": roleID}}, "role assigned to user")
	return invalidated(m.checker.InvalidateUser(ctx, userID))
}

// RemoveRoleFromUser unlinks a role from a user and drops that user's cached permissions
func (m *Manager) RemoveRoleFromUser(ctx context.Context, userID, roleID int64) error {
	if err := m.store.DestroyUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "role_id": roleID}).Info("role removed from user")
	m.recordMutation(ctx, audit.EventTypeAuthzRoleChange, audit.ResourceTypeUser, userID,
		&audit.ChangeDetails{Before: map[string]interface{}{"role_id": roleID}}, "role removed from user")
	return invalidated(m.checker.InvalidateUser(ctx, userID))
}

// AssignPermissionToRole grants a permission to a role. Any user may hold the
// role, so every cached set is dropped.
func (m *Manager) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	if err := m.store.FindOrCreateRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"role_id": roleID, "permission_id": permissionID}).Info("permission assigned to role")
	m.recordMutation(ctx, audit.EventTypeAuthzPermissionGrant, audit.ResourceTypeRole, roleID,
		&audit.ChangeDetails{After: map[string]interface{}{"permission_id": permissionID}}, "permission assigned to role")
	return invalidated(m.checker.InvalidateAll(ctx))
}

// RemovePermissionFromRole revokes a permission from a role and drops every cached set
func (m *Manager) RemovePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	if err := m.store.DestroyRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"role_id": roleID, "permission_id": permissionID}).Info("permission removed from role")
	m.recordMutation(ctx, audit.EventTypeAuthzPermissionRevoke, audit.ResourceTypeRole, roleID,
		&audit.ChangeDetails{Before: map[string]interface{}{"permission_id": permissionID}}, "permission removed from role")
	return invalidated(m.checker.InvalidateAll(ctx))
}

// AssignUserToTeam adds a user to a team. Teams grant no permissions, but the
// user's cache entry is still dropped.
func (m *Manager) AssignUserToTeam(ctx context.Context, userID, teamID int64, isLead bool) error {
	if err := m.store.FindOrCreateTeamMember(ctx, userID, teamID, isLead); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "team_id": teamID, "is_lead": isLead}).Info("user added to team")
	m.recordMutation(ctx, audit.EventTypeAuthzTeamChange, audit.ResourceTypeTeam, teamID,
		&audit.ChangeDetails{After: map[string]interface{}{"user_id": userID, "is_lead": isLead}}, "user added to team")
	return invalidated(m.checker.InvalidateUser(ctx, userID))
}

// RemoveUserFromTeam removes a user from a team and drops the user's cache entry
func (m *Manager) RemoveUserFromTeam(ctx context.Context, userID, teamID int64) error {
	if err := m.store.DestroyTeamMember(ctx, userID, teamID); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "team_id": teamID}).Info("user removed from team")
	m.recordMutation(ctx, audit.EventTypeAuthzTeamChange, audit.ResourceTypeTeam, teamID,
		&audit.ChangeDetails{Before: map[string]interface{}{"user_id": userID}}, "user removed from team")
	return invalidated(m.checker.InvalidateUser(ctx, userID))
}

// recordMutation writes an audit event for a committed graph change. The
// acting user is taken from the context; audit failures are logged only.
func (m *Manager) recordMutation(ctx context.Context, eventType audit.EventType, resourceType audit.ResourceType, resourceID int64, changes *audit.ChangeDetails, message string) {
	if m.audit == nil {
		return
	}
	var actor *int64
	if principal, ok := PrincipalFromContext(ctx); ok {
		id := principal.UserID
		actor = &id
	}
	err := m.audit.LogDataMutation(ctx, eventType, actor, resourceType, strconv.FormatInt(resourceID, 10), changes, message)
	if err != nil {
		m.log.WithError(err).WithField("event_type", eventType).Warn("failed to record audit event")
	}
}

// invalidated marks a cache failure that follows a committed store write
func invalidated(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCacheInvalidation, err)
}

// GetUserRoles returns the user's roles straight from the store
func (m *Manager) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return m.store.ListUserRoles(ctx, userID)
}

// GetUserTeams returns the user's team memberships straight from the store
func (m *Manager) GetUserTeams(ctx context.Context, userID int64) ([]TeamMembership, error) {
	return m.store.ListUserTeams(ctx, userID)
}

// ListRoles returns every role, without permissions
func (m *Manager) ListRoles(ctx context.Context) ([]Role, error) {
	return m.store.ListRoles(ctx)
}

// GetRole returns one role, without permissions
func (m *Manager) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return m.store.GetRole(ctx, roleID)
}

// WarmCache resolves and caches the permission sets of userIDs ahead of
// their first request. Users already cached are left alone.
func (m *Manager) WarmCache(ctx context.Context, userIDs []int64) error {
	start := time.Now()
	errs := async.Batch(ctx, userIDs, warmWorkers, "permission cache warm", 0, func(ctx context.Context, userID int64) error {
		m.checker.Permissions(ctx, userID)
		return ctx.Err()
	})

	m.log.WithFields(logrus.Fields{
		"users":    len(userIDs),
		"failed":   len(errs),
		"duration": time.Since(start),
	}).Info("permission cache warmed")
	return errors.Join(errs...)
}
