package rbac

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/httputil"
)

// PermissionMiddleware adapts Gate decisions to HTTP handlers
type PermissionMiddleware struct {
	gate *Gate
	log  *logrus.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(gate *Gate, log *logrus.Logger) *PermissionMiddleware {
	if log == nil {
		log = logrus.New()
	}
	return &PermissionMiddleware{gate: gate, log: log}
}

// RequirePermission creates middleware that requires resource:action
func (pm *PermissionMiddleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return pm.guard(func(r *http.Request) error {
		return pm.gate.RequirePermission(r.Context(), resource, action)
	})
}

// RequireAnyPermission creates middleware that requires at least one of perms
func (pm *PermissionMiddleware) RequireAnyPermission(perms ...Permission) func(http.Handler) http.Handler {
	return pm.guard(func(r *http.Request) error {
		return pm.gate.RequireAnyPermission(r.Context(), perms...)
	})
}

// RequireAllPermissions creates middleware that requires every one of perms
func (pm *PermissionMiddleware) RequireAllPermissions(perms ...Permission) func(http.Handler) http.Handler {
	return pm.guard(func(r *http.Request) error {
		return pm.gate.RequireAllPermissions(r.Context(), perms...)
	})
}

func (pm *PermissionMiddleware) guard(decide func(*http.Request) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := decide(r); err != nil {
				pm.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError maps gate errors to status codes: 401 without identity, 403 without permission
func (pm *PermissionMiddleware) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var forbiddenErr *ForbiddenError
	switch {
	case errors.Is(err, ErrUnauthorized):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.As(err, &forbiddenErr):
		httputil.WriteForbidden(w, forbiddenErr.Error())
	default:
		pm.log.WithError(err).WithField("path", r.URL.Path).Error("authorization check failed")
		httputil.WriteInternalError(w)
	}
}
