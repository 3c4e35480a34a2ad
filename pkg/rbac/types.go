package rbac

import (
	"sort"
	"strings"
	"time"
)

// Common resources guarded by the CRM application
const (
	ResourceProperties     = "properties"
	ResourceContacts       = "contacts"
	ResourceDeals          = "deals"
	ResourceTasks          = "tasks"
	ResourceDocuments      = "documents"
	ResourceCommunications = "communications"
	ResourceReports        = "reports"
	ResourceAnalytics      = "analytics"
	ResourceSettings       = "settings"
	ResourceUsers          = "users"
	ResourceRoles          = "roles"
	ResourceTeams          = "teams"
)

// Common actions
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionList   = "list"
	ActionExport = "export"
)

// Permission is an atomic capability on a resource
type Permission struct {
	ID          int64  `json:"id,omitempty"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// NewPermission builds a permission from a resource and an action
func NewPermission(resource, action string) Permission {
	return Permission{Resource: resource, Action: action}
}

// ParsePermission parses a "resource:action" string
func ParsePermission(s string) (Permission, bool) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok || resource == "" || action == "" {
		return Permission{}, false
	}
	return Permission{Resource: resource, Action: action}, true
}

// String returns the "resource:action" key of the permission
func (p Permission) String() string {
	return PermissionKey(p.Resource, p.Action)
}

// PermissionKey joins a resource and an action into a permission key
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}

// PermissionSet is a flat set of "resource:action" keys.
// Two permissions with the same resource and action collapse into one entry.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission keys
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Add inserts a permission key
func (s PermissionSet) Add(key string) {
	s[key] = struct{}{}
}

// Has reports whether the set holds the key
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of distinct keys
func (s PermissionSet) Len() int {
	return len(s)
}

// Slice returns the keys in sorted order
func (s PermissionSet) Slice() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Role is a named bundle of permissions
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// User is an account with a single static role and any number of dynamic roles
type User struct {
	ID        int64       `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      AccountRole `json:"role"`
	Roles     []Role      `json:"roles,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Team groups users for organizational queries
type Team struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TeamMembership represents a user's membership in a team
type TeamMembership struct {
	TeamID  int64     `json:"team_id"`
	UserID  int64     `json:"user_id"`
	IsLead  bool      `json:"is_lead"`
	AddedAt time.Time `json:"added_at"`
	Team    *Team     `json:"team,omitempty"`
}
