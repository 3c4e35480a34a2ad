package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	allResources = []string{
		ResourceProperties, ResourceContacts, ResourceDeals, ResourceTasks,
		ResourceDocuments, ResourceCommunications, ResourceReports, ResourceAnalytics,
		ResourceSettings, ResourceUsers, ResourceRoles, ResourceTeams, "widgets",
	}
	allActions = []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionExport, "approve"}
)

func TestDecide_AdminAllowsEverything(t *testing.T) {
	for _, r := range allResources {
		for _, a := range allActions {
			assert.True(t, Decide("admin", r, a), "admin %s:%s", r, a)
		}
	}
}

func TestDecide_ManagerDenyList(t *testing.T) {
	denied := map[string]bool{
		"settings:update": true,
		"settings:delete": true,
		"users:delete":    true,
	}
	for _, r := range allResources {
		for _, a := range allActions {
			key := PermissionKey(r, a)
			assert.Equal(t, !denied[key], Decide("manager", r, a), "manager %s", key)
		}
	}
}

func TestDecide_AssistantReadOnly(t *testing.T) {
	for _, r := range allResources {
		assert.True(t, Decide("assistant", r, ActionRead), "assistant %s:read", r)
		assert.True(t, Decide("assistant", r, ActionList), "assistant %s:list", r)
		for _, a := range []string{ActionCreate, ActionUpdate, ActionDelete, ActionExport} {
			assert.False(t, Decide("assistant", r, a), "assistant %s:%s", r, a)
		}
	}
}

func TestDecide_AgentAllowList(t *testing.T) {
	tests := []struct {
		resource string
		action   string
		expected bool
	}{
		{ResourceProperties, ActionCreate, true},
		{ResourceDeals, ActionUpdate, true},
		{ResourceCommunications, ActionList, true},
		{ResourceReports, ActionRead, true},
		{ResourceAnalytics, ActionList, true},
		{ResourceReports, ActionExport, false},
		{ResourceProperties, ActionDelete, false},
		{ResourceSettings, ActionUpdate, false},
		{ResourceSettings, ActionRead, false},
		{ResourceUsers, ActionRead, false},
		{"widgets", ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(PermissionKey(tt.resource, tt.action), func(t *testing.T) {
			assert.Equal(t, tt.expected, Decide("agent", tt.resource, tt.action))
		})
	}
}

func TestDecide_UnknownRoleDenies(t *testing.T) {
	for _, role := range []string{"", "owner", "ADMIN", "superuser"} {
		assert.False(t, Decide(role, ResourceDeals, ActionRead), "role %q", role)
	}
}

func TestParseAccountRole(t *testing.T) {
	for _, role := range AccountRoles() {
		parsed, ok := ParseAccountRole(string(role))
		assert.True(t, ok)
		assert.Equal(t, role, parsed)
	}

	parsed, ok := ParseAccountRole("owner")
	assert.False(t, ok)
	assert.Equal(t, AccountRole("owner"), parsed)
}
