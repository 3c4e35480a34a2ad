// Package httputil provides JSON response helpers, request parsing and the
// request-id, logging, recovery and body-limit middleware shared by every
// HTTP surface.
//
// Error bodies have the shape {"error":"<code>","message":"<text>"}:
//
//	httputil.WriteForbidden(w, "missing deals:create")
//
// Handlers parse and bail in one step:
//
//	var req struct{ RoleID int64 `json:"role_id"` }
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
package httputil
