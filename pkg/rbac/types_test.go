package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePermission(t *testing.T) {
	tests := []struct {
		input    string
		expected Permission
		ok       bool
	}{
		{"deals:create", Permission{Resource: "deals", Action: "create"}, true},
		{"reports:export", Permission{Resource: "reports", Action: "export"}, true},
		{"deals", Permission{}, false},
		{":create", Permission{}, false},
		{"deals:", Permission{}, false},
		{"", Permission{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, ok := ParsePermission(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet("deals:create", "deals:read")
	set.Add("deals:create")

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("deals:read"))
	assert.False(t, set.Has("deals:delete"))
	assert.Equal(t, []string{"deals:create", "deals:read"}, set.Slice())
}

func TestFlatten(t *testing.T) {
	roles := []Role{
		{Name: "sales", Permissions: []Permission{
			NewPermission("deals", "create"),
			NewPermission("deals", "read"),
		}},
		{Name: "reporting", Permissions: []Permission{
			NewPermission("deals", "read"),
			NewPermission("reports", "export"),
			{Resource: "", Action: "read"},
		}},
		{Name: "empty"},
	}

	perms := Flatten(roles)

	assert.Equal(t, []string{"deals:create", "deals:read", "reports:export"}, perms.Slice())
}

func TestForbiddenError(t *testing.T) {
	err := forbidden(Permission{ID: 7, Resource: "deals", Action: "create", Description: "internal"})
	assert.EqualError(t, err, "missing deals:create")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	anyErr := forbiddenAnyOf([]Permission{NewPermission("deals", "create"), NewPermission("deals", "update")})
	assert.EqualError(t, anyErr, "missing any of [deals:create, deals:update]")
	assert.ErrorIs(t, anyErr, ErrForbidden)
}

func TestUnauthorizedError(t *testing.T) {
	var err error = &UnauthorizedError{}
	assert.EqualError(t, err, "authentication required")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrForbidden)
}
