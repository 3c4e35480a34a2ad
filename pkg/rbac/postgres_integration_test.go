//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres connects to PERMGATE_TEST_POSTGRES when set, otherwise starts a container
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	if IsDatabaseAvailable() {
		db := RequireDatabase(t)
		t.Cleanup(func() { db.Close() })
		return db
	}

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("permgate_test"),
		postgres.WithUsername("permgate"),
		postgres.WithPassword("permgate_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})
	return db
}

func TestPostgres_GraphLifecycle(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	store := NewSQLStore(db)
	manager := NewManager(store, DefaultConfig(), WithLogger(log))
	require.NoError(t, manager.Initialize(ctx))
	require.NoError(t, manager.Initialize(ctx), "migrations are idempotent")

	user := &User{Email: "pg-" + time.Now().Format("150405.000000") + "@example.com", Role: AccountRoleAssistant}
	require.NoError(t, store.CreateUser(ctx, user))
	role := &Role{Name: "pg-exporters-" + time.Now().Format("150405.000000")}
	require.NoError(t, store.CreateRole(ctx, role))
	perm, err := store.EnsurePermission(ctx, "reports", "export", "Export reports")
	require.NoError(t, err)

	gate := manager.Gate()
	principalCtx := WithPrincipal(ctx, &Principal{UserID: user.ID, Role: user.Role})

	assert.ErrorIs(t, gate.RequirePermission(principalCtx, "reports", "export"), ErrForbidden)

	require.NoError(t, manager.AssignRoleToUser(ctx, user.ID, role.ID))
	require.NoError(t, manager.AssignRoleToUser(ctx, user.ID, role.ID))
	require.NoError(t, manager.AssignPermissionToRole(ctx, role.ID, perm.ID))

	assert.NoError(t, gate.RequirePermission(principalCtx, "reports", "export"))

	roles, err := manager.GetUserRoles(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "reports:export", roles[0].Permissions[0].String())

	require.NoError(t, manager.RemoveRoleFromUser(ctx, user.ID, role.ID))
	assert.ErrorIs(t, gate.RequirePermission(principalCtx, "reports", "export"), ErrForbidden)

	assert.ErrorIs(t, manager.AssignRoleToUser(ctx, user.ID, role.ID+100000), ErrRoleNotFound)
}
