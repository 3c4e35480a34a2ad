package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/permgate/pkg/observability"
)

const tracerName = "github.com/platinummonkey/permgate/pkg/rbac"

// Resolver computes a user's effective dynamic permissions from the graph store.
// It never returns an error: any read failure yields the empty set.
type Resolver struct {
	store   UserGraphReader
	log     *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewResolver creates a resolver over the given store
func NewResolver(store UserGraphReader, log *logrus.Logger, metrics *observability.Metrics) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	return &Resolver{
		store:   store,
		log:     log,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Resolve returns the union of permissions across all of the user's roles.
// A missing user resolves to the empty set without being treated as a failure.
func (r *Resolver) Resolve(ctx context.Context, userID int64) PermissionSet {
	perms, _ := r.resolve(ctx, userID)
	return perms
}

// resolve is Resolve that also reports a failed graph read. The returned set
// is empty, never nil, whenever err is set.
func (r *Resolver) resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.resolve", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	start := time.Now()
	user, err := r.store.FindUserWithRolesAndPermissions(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			r.metrics.ObserveResolve(time.Since(start), false)
			span.SetAttributes(attribute.Int("permissions.count", 0))
			return NewPermissionSet(), nil
		}

		r.metrics.ObserveResolve(time.Since(start), true)
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission graph read failed")
		entry := r.log.WithError(err).WithField("user_id", userID)
		observability.WithTraceContext(ctx, entry).Error("failed to resolve permissions, denying by default")
		return NewPermissionSet(), err
	}

	perms := Flatten(user.Roles)
	r.metrics.ObserveResolve(time.Since(start), false)
	span.SetAttributes(
		attribute.Int("roles.count", len(user.Roles)),
		attribute.Int("permissions.count", perms.Len()),
	)
	return perms, nil
}

// Flatten unions the permissions of the given roles into one set.
// Entries without a resource or an action cannot match a check and are skipped.
func Flatten(roles []Role) PermissionSet {
	set := NewPermissionSet()
	for _, role := range roles {
		for _, p := range role.Permissions {
			if p.Resource == "" || p.Action == "" {
				continue
			}
			set.Add(p.String())
		}
	}
	return set
}
