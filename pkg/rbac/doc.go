// Package rbac decides whether an authenticated user may perform an action
// on a resource type.
//
// # Overview
//
// Two sources of permission are combined:
//
//  1. The dynamic graph: users hold roles, roles hold permissions. A user's
//     effective set is the union over all held roles, resolved by Resolver
//     and cached per user by a PermissionCache (default TTL 300000ms).
//  2. The static policy: every user carries one AccountRole (admin, manager,
//     agent or assistant) evaluated by AccountRole.Allows without storage.
//
// Teams group users but grant nothing.
//
// # Permissions
//
// A permission is a resource and an action, written "resource:action":
//
//	rbac.NewPermission(rbac.ResourceDeals, rbac.ActionCreate) // deals:create
//
// # Gates
//
// Gate reads the Principal from the context and returns nil, an
// *UnauthorizedError when no principal is present, or a *ForbiddenError
// naming the missing permission. The three gates fall back to the static
// policy differently:
//
//	gate.RequirePermission(ctx, "deals", "create")         // dynamic, then full static policy
//	gate.RequireAnyPermission(ctx, p1, p2)                 // any dynamic grant, then admin only
//	gate.RequireAllPermissions(ctx, p1, p2)                // each item: dynamic grant or admin
//
// CheckPermission on the Checker consults the dynamic graph only.
//
// # Failure handling
//
// Resolution fails closed: a store error is logged and resolves to the
// empty set, so RequirePermission still answers from the static policy
// while RequireAnyPermission and RequireAllPermissions admit only admins.
// A failed resolve is never cached.
//
// # Mutations
//
// Manager applies graph mutations and keeps the cache coherent:
//
//	manager.AssignRoleToUser(ctx, userID, roleID)         // drops userID's entry
//	manager.AssignPermissionToRole(ctx, roleID, permID)   // drops every entry
//	manager.AssignUserToTeam(ctx, userID, teamID, false)  // drops userID's entry
//
// A mutation whose write committed but whose invalidation failed returns an
// error matching ErrCacheInvalidation. With WithAuditLogger each successful
// mutation, and each gate denial, is recorded as an audit.AuditEvent.
//
// # HTTP
//
// PermissionMiddleware wraps handlers with a gate and maps errors to 401 and
// 403 responses. Handlers exposes the mutation and introspection operations
// under /rbac, each behind RequirePermission.
//
// # Storage
//
// SQLStore runs on PostgreSQL (lib/pq) and SQLite (go-sqlite3). RunMigrations
// creates the PostgreSQL schema and records applied versions in
// rbac_migrations. RedisCache shares cached sets between processes and
// versions each entry so a set resolved before another process invalidated
// it is never written.
package rbac
