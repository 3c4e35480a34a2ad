package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized matches any *UnauthorizedError
	ErrUnauthorized = errors.New("rbac: authentication required")

	// ErrForbidden matches any *ForbiddenError
	ErrForbidden = errors.New("rbac: forbidden")

	// ErrUserNotFound is returned when a user does not exist
	ErrUserNotFound = errors.New("rbac: user not found")

	// ErrRoleNotFound is returned when a role does not exist
	ErrRoleNotFound = errors.New("rbac: role not found")

	// ErrPermissionNotFound is returned when a permission does not exist
	ErrPermissionNotFound = errors.New("rbac: permission not found")

	// ErrTeamNotFound is returned when a team does not exist
	ErrTeamNotFound = errors.New("rbac: team not found")

	// ErrCacheInvalidation is returned by a mutation whose store write
	// committed but whose cache entries could not be dropped. Cached sets
	// may stay stale until their TTL expires.
	ErrCacheInvalidation = errors.New("rbac: change saved but permission cache invalidation failed")
)

// UnauthorizedError reports that no authenticated identity was present
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string {
	return "authentication required"
}

// Is lets errors.Is match ErrUnauthorized
func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// ForbiddenError reports the permission an authenticated caller was missing.
// It names only the failed permission, never the ones the caller holds.
type ForbiddenError struct {
	Permission Permission

	// AnyOf is set instead of Permission when none of several alternatives was granted
	AnyOf []Permission
}

func (e *ForbiddenError) Error() string {
	if e.AnyOf != nil {
		keys := make([]string, len(e.AnyOf))
		for i, p := range e.AnyOf {
			keys[i] = p.String()
		}
		return fmt.Sprintf("missing any of [%s]", strings.Join(keys, ", "))
	}
	return fmt.Sprintf("missing %s", e.Permission)
}

// Is lets errors.Is match ErrForbidden
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

func forbidden(p Permission) error {
	return &ForbiddenError{Permission: Permission{Resource: p.Resource, Action: p.Action}}
}

func forbiddenAnyOf(perms []Permission) error {
	anyOf := make([]Permission, len(perms))
	for i, p := range perms {
		anyOf[i] = Permission{Resource: p.Resource, Action: p.Action}
	}
	return &ForbiddenError{AnyOf: anyOf}
}
