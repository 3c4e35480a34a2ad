package rbac

import (
	"context"

	"github.com/platinummonkey/permgate/pkg/contextkeys"
)

// Principal is the authenticated caller a gate decides for
type Principal struct {
	UserID int64       `json:"user_id"`
	Role   AccountRole `json:"role"`
}

// WithPrincipal attaches the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, principal)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}
