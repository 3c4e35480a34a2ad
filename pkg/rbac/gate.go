package rbac

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/audit"
	"github.com/platinummonkey/permgate/pkg/contextkeys"
	"github.com/platinummonkey/permgate/pkg/observability"
)

// Gate names used as metric labels
const (
	GatePermission     = "permission"
	GateAnyPermission  = "any"
	GateAllPermissions = "all"
)

// Decision sources used as metric labels
const (
	sourceDynamic = "dynamic"
	sourceStatic  = "static"
	sourceNone    = "none"
)

// PermissionSource supplies a user's dynamic permission set
type PermissionSource interface {
	Permissions(ctx context.Context, userID int64) PermissionSet
}

// Gate makes allow/deny decisions for the principal on the context.
// Each of the three gates combines the dynamic graph with the static
// account role differently:
//
//	RequirePermission      dynamic grant, else the full static policy
//	RequireAnyPermission   any dynamic grant, else admin only
//	RequireAllPermissions  per item, dynamic grant or admin
type Gate struct {
	source  PermissionSource
	log     *logrus.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithGateAudit records every denial as an authz.access_denied event
func WithGateAudit(logger audit.Logger) GateOption {
	return func(g *Gate) { g.audit = logger }
}

// NewGate creates a gate over a permission source
func NewGate(source PermissionSource, log *logrus.Logger, metrics *observability.Metrics, opts ...GateOption) *Gate {
	if log == nil {
		log = logrus.New()
	}
	g := &Gate{source: source, log: log, metrics: metrics}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequirePermission allows when the caller's roles grant resource:action,
// or when the caller's account role allows it statically
func (g *Gate) RequirePermission(ctx context.Context, resource, action string) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return g.unauthenticated(GatePermission)
	}

	perm := NewPermission(resource, action)
	if g.source.Permissions(ctx, principal.UserID).Has(perm.String()) {
		return g.allow(GatePermission, sourceDynamic)
	}
	if fullStaticFallback(principal.Role, perm) {
		return g.allow(GatePermission, sourceStatic)
	}

	g.logDenied(ctx, GatePermission, principal, perm.String())
	g.metrics.RecordDecision(GatePermission, "deny", sourceNone)
	return forbidden(perm)
}

// RequireAnyPermission allows when the caller's roles grant at least one of
// perms. Only admins pass without a grant; the rest of the static policy
// is not consulted.
func (g *Gate) RequireAnyPermission(ctx context.Context, perms ...Permission) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return g.unauthenticated(GateAnyPermission)
	}

	granted := g.source.Permissions(ctx, principal.UserID)
	for _, perm := range perms {
		if granted.Has(perm.String()) {
			return g.allow(GateAnyPermission, sourceDynamic)
		}
	}
	if adminOnlyFallback(principal.Role) {
		return g.allow(GateAnyPermission, sourceStatic)
	}

	keys := make([]string, len(perms))
	for i, p := range perms {
		keys[i] = p.String()
	}
	g.logDenied(ctx, GateAnyPermission, principal, strings.Join(keys, ","))
	g.metrics.RecordDecision(GateAnyPermission, "deny", sourceNone)
	return forbiddenAnyOf(perms)
}

// RequireAllPermissions allows when every one of perms is granted by the
// caller's roles or the caller is an admin. The first failing permission,
// in argument order, is reported.
func (g *Gate) RequireAllPermissions(ctx context.Context, perms ...Permission) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return g.unauthenticated(GateAllPermissions)
	}

	granted := g.source.Permissions(ctx, principal.UserID)
	source := sourceDynamic
	for _, perm := range perms {
		if granted.Has(perm.String()) {
			continue
		}
		if adminOnlyFallback(principal.Role) {
			source = sourceStatic
			continue
		}

		g.logDenied(ctx, GateAllPermissions, principal, perm.String())
		g.metrics.RecordDecision(GateAllPermissions, "deny", sourceNone)
		return forbidden(perm)
	}

	return g.allow(GateAllPermissions, source)
}

// fullStaticFallback consults the whole static role policy
func fullStaticFallback(role AccountRole, perm Permission) bool {
	return role.Allows(perm.Resource, perm.Action)
}

// adminOnlyFallback passes admins and nobody else
func adminOnlyFallback(role AccountRole) bool {
	return role.IsAdmin()
}

func (g *Gate) allow(gate, source string) error {
	g.metrics.RecordDecision(gate, "allow", source)
	return nil
}

func (g *Gate) unauthenticated(gate string) error {
	g.metrics.RecordDecision(gate, "unauthenticated", sourceNone)
	return &UnauthorizedError{}
}

// logDenied records a denial; missing is the permission key, or a
// comma-separated list for the any-of gate
func (g *Gate) logDenied(ctx context.Context, gate string, principal *Principal, missing string) {
	entry := g.log.WithFields(logrus.Fields{
		"gate":       gate,
		"user_id":    principal.UserID,
		"role":       principal.Role,
		"missing":    missing,
		"request_id": contextkeys.GetRequestID(ctx),
	})
	observability.WithTraceContext(ctx, entry).Debug("authorization denied")

	if g.audit == nil {
		return
	}
	userID := principal.UserID
	event := &audit.AuditEvent{
		EventType:    audit.EventTypeAuthzAccessDenied,
		Status:       audit.EventStatusDenied,
		UserID:       &userID,
		ResourceType: audit.ResourceTypePermission,
		ResourceID:   missing,
		RequestID:    contextkeys.GetRequestID(ctx),
		Message:      "authorization denied",
		Metadata: map[string]interface{}{
			"gate": gate,
			"role": string(principal.Role),
		},
	}
	if err := g.audit.Log(ctx, event); err != nil {
		g.log.WithError(err).WithField("user_id", userID).Warn("failed to record audit event")
	}
}
