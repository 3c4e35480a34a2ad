package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permgate/pkg/httputil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveAs(handler http.Handler, principal *Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/guarded", nil)
	if principal != nil {
		req = req.WithContext(WithPrincipal(req.Context(), principal))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestPermissionMiddleware_RequirePermission(t *testing.T) {
	source := staticSource{1: NewPermissionSet("reports:export")}
	pm := NewPermissionMiddleware(NewGate(source, nil, nil), nil)
	handler := pm.RequirePermission("deals", "create")(okHandler())

	t.Run("401 without principal", func(t *testing.T) {
		w := serveAs(handler, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body httputil.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "unauthorized", body.Error)
	})

	t.Run("403 names the missing permission only", func(t *testing.T) {
		w := serveAs(handler, &Principal{UserID: 1, Role: AccountRoleAssistant})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"error":"forbidden","message":"missing deals:create"}`, w.Body.String())
	})

	t.Run("static fallback allows", func(t *testing.T) {
		w := serveAs(handler, &Principal{UserID: 2, Role: AccountRoleAgent})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPermissionMiddleware_AnyAndAll(t *testing.T) {
	source := staticSource{1: NewPermissionSet("deals:read")}
	pm := NewPermissionMiddleware(NewGate(source, nil, nil), nil)

	anyHandler := pm.RequireAnyPermission(NewPermission("deals", "read"), NewPermission("deals", "update"))(okHandler())
	allHandler := pm.RequireAllPermissions(NewPermission("deals", "read"), NewPermission("deals", "update"))(okHandler())

	assert.Equal(t, http.StatusOK, serveAs(anyHandler, &Principal{UserID: 1, Role: AccountRoleAssistant}).Code)
	assert.Equal(t, http.StatusForbidden, serveAs(anyHandler, &Principal{UserID: 2, Role: AccountRoleManager}).Code)

	w := serveAs(allHandler, &Principal{UserID: 1, Role: AccountRoleAssistant})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"forbidden","message":"missing deals:update"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, serveAs(allHandler, &Principal{UserID: 2, Role: AccountRoleAdmin}).Code)
	assert.Equal(t, http.StatusUnauthorized, serveAs(allHandler, nil).Code)
}
