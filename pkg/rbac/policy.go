package rbac

// AccountRole is the single static role carried on every user record.
// It drives the hardcoded fallback policy and is independent of the
// dynamic role graph.
type AccountRole string

const (
	AccountRoleAdmin     AccountRole = "admin"
	AccountRoleManager   AccountRole = "manager"
	AccountRoleAgent     AccountRole = "agent"
	AccountRoleAssistant AccountRole = "assistant"
)

// managerDenied is a blocklist: anything not listed here is granted to managers.
// New dangerous actions must be added explicitly.
var managerDenied = map[string]struct{}{
	PermissionKey(ResourceSettings, ActionUpdate): {},
	PermissionKey(ResourceSettings, ActionDelete): {},
	PermissionKey(ResourceUsers, ActionDelete):    {},
}

// agentAllowed is an allowlist: anything not listed here is denied to agents.
var agentAllowed = buildAgentAllowed()

func buildAgentAllowed() map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, resource := range []string{
		ResourceProperties,
		ResourceContacts,
		ResourceDeals,
		ResourceTasks,
		ResourceDocuments,
		ResourceCommunications,
	} {
		for _, action := range []string{ActionCreate, ActionRead, ActionUpdate, ActionList} {
			allowed[PermissionKey(resource, action)] = struct{}{}
		}
	}
	for _, resource := range []string{ResourceReports, ResourceAnalytics} {
		for _, action := range []string{ActionRead, ActionList} {
			allowed[PermissionKey(resource, action)] = struct{}{}
		}
	}
	return allowed
}

// AccountRoles returns the known account roles
func AccountRoles() []AccountRole {
	return []AccountRole{AccountRoleAdmin, AccountRoleManager, AccountRoleAgent, AccountRoleAssistant}
}

// ParseAccountRole converts a stored role name. The returned role is the
// input unchanged; ok is false when the name is not a known role.
func ParseAccountRole(name string) (AccountRole, bool) {
	role := AccountRole(name)
	return role, role.Valid()
}

// Valid reports whether the role is one of the known account roles
func (r AccountRole) Valid() bool {
	switch r {
	case AccountRoleAdmin, AccountRoleManager, AccountRoleAgent, AccountRoleAssistant:
		return true
	}
	return false
}

// Allows is the static policy decision for a resource/action pair.
// It never touches storage. Unknown roles are denied.
func (r AccountRole) Allows(resource, action string) bool {
	switch r {
	case AccountRoleAdmin:
		return true
	case AccountRoleManager:
		_, denied := managerDenied[PermissionKey(resource, action)]
		return !denied
	case AccountRoleAgent:
		_, ok := agentAllowed[PermissionKey(resource, action)]
		return ok
	case AccountRoleAssistant:
		return action == ActionRead || action == ActionList
	default:
		return false
	}
}

// IsAdmin reports whether the role is admin
func (r AccountRole) IsAdmin() bool {
	return r == AccountRoleAdmin
}

// Decide evaluates the static policy for a role given by name
func Decide(roleName, resource, action string) bool {
	return AccountRole(roleName).Allows(resource, action)
}
