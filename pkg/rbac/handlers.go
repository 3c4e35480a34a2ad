package rbac

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/audit"
	"github.com/platinummonkey/permgate/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC administration
type Handlers struct {
	manager *Manager
	log     *logrus.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager, log: manager.log}
}

// RegisterRoutes registers all RBAC routes, each behind the gate
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	pm := h.manager.Middleware()
	guard := func(resource, action string, fn http.HandlerFunc) http.Handler {
		return pm.RequirePermission(resource, action)(fn)
	}

	// User role assignments
	router.Handle("/rbac/users/{id}/roles", guard(ResourceUsers, ActionRead, h.GetUserRoles)).Methods("GET")
	router.Handle("/rbac/users/{id}/roles", guard(ResourceUsers, ActionUpdate, h.AssignRoleToUser)).Methods("POST")
	router.Handle("/rbac/users/{id}/roles/{role_id}", guard(ResourceUsers, ActionUpdate, h.RemoveRoleFromUser)).Methods("DELETE")

	// Team memberships
	router.Handle("/rbac/users/{id}/teams", guard(ResourceTeams, ActionRead, h.GetUserTeams)).Methods("GET")
	router.Handle("/rbac/teams/{id}/members", guard(ResourceTeams, ActionUpdate, h.AddTeamMember)).Methods("POST")
	router.Handle("/rbac/teams/{id}/members/{user_id}", guard(ResourceTeams, ActionUpdate, h.RemoveTeamMember)).Methods("DELETE")

	// Roles
	router.Handle("/rbac/roles", guard(ResourceRoles, ActionRead, h.ListRoles)).Methods("GET")
	router.Handle("/rbac/roles/{id}", guard(ResourceRoles, ActionRead, h.GetRole)).Methods("GET")

	// Role permissions
	router.Handle("/rbac/roles/{id}/permissions", guard(ResourceRoles, ActionUpdate, h.AssignPermissionToRole)).Methods("POST")
	router.Handle("/rbac/roles/{id}/permissions/{permission_id}", guard(ResourceRoles, ActionUpdate, h.RemovePermissionFromRole)).Methods("DELETE")

	// Cache maintenance
	router.Handle("/rbac/cache/warm", guard(ResourceRoles, ActionUpdate, h.WarmCache)).Methods("POST")

	// Audit trail, when the configured sink can be queried
	if _, ok := h.manager.AuditLogger().(audit.Searcher); ok {
		router.Handle("/rbac/audit", guard(ResourceSettings, ActionRead, h.SearchAudit)).Methods("GET")
	}

	// Permission checking for the caller
	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
}

// GetUserRoles lists a user's roles with their permissions
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.manager.GetUserRoles(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// AssignRoleToUser links a role to a user
func (h *Handlers) AssignRoleToUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}

	h.writeMutationResult(w, r, h.manager.AssignRoleToUser(r.Context(), userID, req.RoleID))
}

// RemoveRoleFromUser unlinks a role from a user
func (h *Handlers) RemoveRoleFromUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	h.writeMutationResult(w, r, h.manager.RemoveRoleFromUser(r.Context(), userID, roleID))
}

// GetUserTeams lists a user's team memberships
func (h *Handlers) GetUserTeams(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	teams, err := h.manager.GetUserTeams(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, teams)
}

// AddTeamMember adds a user to a team
func (h *Handlers) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
		IsLead bool  `json:"is_lead"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	h.writeMutationResult(w, r, h.manager.AssignUserToTeam(r.Context(), req.UserID, teamID, req.IsLead))
}

// RemoveTeamMember removes a user from a team
func (h *Handlers) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	h.writeMutationResult(w, r, h.manager.RemoveUserFromTeam(r.Context(), userID, teamID))
}

// AssignPermissionToRole grants a permission to a role
func (h *Handlers) AssignPermissionToRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		PermissionID int64 `json:"permission_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionID <= 0 {
		httputil.WriteBadRequest(w, "permission_id is required")
		return
	}

	h.writeMutationResult(w, r, h.manager.AssignPermissionToRole(r.Context(), roleID, req.PermissionID))
}

// RemovePermissionFromRole revokes a permission from a role
func (h *Handlers) RemovePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	h.writeMutationResult(w, r, h.manager.RemovePermissionFromRole(r.Context(), roleID, permissionID))
}

// ListRoles lists every role
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.ListRoles(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.manager.GetRole(r.Context(), roleID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// maxAuditResults caps the events returned by one audit search
const maxAuditResults = 500

// SearchAudit lists audit events, newest first. Supported query parameters:
// user_id, event_type (repeatable), status, since and until (RFC 3339),
// limit and offset.
func (h *Handlers) SearchAudit(w http.ResponseWriter, r *http.Request) {
	searcher, ok := h.manager.AuditLogger().(audit.Searcher)
	if !ok {
		httputil.WriteNotFoundError(w, "audit search is not available")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := searcher.Search(r.Context(), filter)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}
	httputil.WriteSuccess(w, events)
}

func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	q := r.URL.Query()
	var filter audit.SearchFilter

	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid user_id: %s", v)
		}
		filter.UserID = &id
	}
	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
	}
	if v := q.Get("status"); v != "" {
		status := audit.EventStatus(v)
		filter.Status = &status
	}
	for name, dest := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: %s", name, v)
		}
		*dest = &t
	}
	for name, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid %s: %s", name, v)
		}
		*dest = n
	}
	if filter.Limit > maxAuditResults {
		filter.Limit = maxAuditResults
	}
	return filter, nil
}

// maxWarmUsers caps the user ids accepted by one warm request
const maxWarmUsers = 1000

// WarmCache preloads permission sets for a list of users
func (h *Handlers) WarmCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []int64 `json:"user_ids"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 || len(req.UserIDs) > maxWarmUsers {
		httputil.WriteBadRequest(w, fmt.Sprintf("user_ids must hold between 1 and %d ids", maxWarmUsers))
		return
	}

	if err := h.manager.WarmCache(r.Context(), req.UserIDs); err != nil {
		h.log.WithError(err).Warn("permission cache warm incomplete")
		httputil.WriteServiceUnavailable(w, "cache warm incomplete")
		return
	}
	httputil.WriteNoContent(w)
}

// CheckPermission reports whether the caller may perform an action
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Resource == "" || req.Action == "" {
		httputil.WriteBadRequest(w, "resource and action are required")
		return
	}

	err := h.manager.Gate().RequirePermission(r.Context(), req.Resource, req.Action)
	switch {
	case err == nil:
		httputil.WriteSuccess(w, map[string]bool{"allowed": true})
	case errors.Is(err, ErrForbidden):
		httputil.WriteSuccess(w, map[string]bool{"allowed": false})
	case errors.Is(err, ErrUnauthorized):
		httputil.WriteUnauthorized(w, err.Error())
	default:
		h.writeStoreError(w, r, err)
	}
}

// writeMutationResult answers a graph mutation. A committed write whose
// cache invalidation failed is answered 202 with a warning.
func (h *Handlers) writeMutationResult(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		httputil.WriteNoContent(w)
	case errors.Is(err, ErrCacheInvalidation):
		h.log.WithError(err).WithField("path", r.URL.Path).Warn("change saved but cached permissions may be stale")
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
			"warning": "change saved; cached permissions may stay stale until they expire",
		})
	default:
		h.writeStoreError(w, r, err)
	}
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRoleNotFound),
		errors.Is(err, ErrPermissionNotFound),
		errors.Is(err, ErrTeamNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("rbac request failed")
		httputil.WriteInternalError(w)
	}
}
