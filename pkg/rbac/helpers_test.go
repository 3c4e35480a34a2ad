package rbac

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permgate/pkg/audit"
)

// setupTestDB creates an in-memory SQLite database with the permission graph schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	err = ApplySQLiteSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, store *SQLStore, email string, role AccountRole) *User {
	t.Helper()
	user := &User{Email: email, Name: email, Role: role}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

// createTestRole creates a role granting the given "resource:action" keys
func createTestRole(t *testing.T, store *SQLStore, name string, keys ...string) *Role {
	t.Helper()
	ctx := context.Background()

	role := &Role{Name: name}
	require.NoError(t, store.CreateRole(ctx, role))
	for _, key := range keys {
		p, ok := ParsePermission(key)
		require.True(t, ok, "bad permission key %q", key)
		perm, err := store.EnsurePermission(ctx, p.Resource, p.Action, "")
		require.NoError(t, err)
		require.NoError(t, store.FindOrCreateRolePermission(ctx, role.ID, perm.ID))
		role.Permissions = append(role.Permissions, *perm)
	}
	return role
}

// countingStore wraps a UserGraphReader and counts graph reads
type countingStore struct {
	UserGraphReader
	reads atomic.Int64
}

func (c *countingStore) FindUserWithRolesAndPermissions(ctx context.Context, userID int64) (*User, error) {
	c.reads.Add(1)
	return c.UserGraphReader.FindUserWithRolesAndPermissions(ctx, userID)
}

// staticSource is a PermissionSource returning fixed sets per user
type staticSource map[int64]PermissionSet

func (s staticSource) Permissions(_ context.Context, userID int64) PermissionSet {
	if perms, ok := s[userID]; ok {
		return perms
	}
	return NewPermissionSet()
}

// recordingAuditLogger keeps events in memory and can be made to fail
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (r *recordingAuditLogger) Log(_ context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAuditLogger) LogAuthorization(ctx context.Context, eventType audit.EventType, userID *int64, resourceType audit.ResourceType, resourceID string, status audit.EventStatus, message string) error {
	return r.Log(ctx, &audit.AuditEvent{EventType: eventType, Status: status, UserID: userID,
		ResourceType: resourceType, ResourceID: resourceID, Message: message})
}

func (r *recordingAuditLogger) LogDataMutation(ctx context.Context, eventType audit.EventType, userID *int64, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) error {
	return r.Log(ctx, &audit.AuditEvent{EventType: eventType, Status: audit.EventStatusSuccess, UserID: userID,
		ResourceType: resourceType, ResourceID: resourceID, Changes: changes, Message: message})
}

func (r *recordingAuditLogger) Close() error { return nil }

func (r *recordingAuditLogger) recorded() []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.AuditEvent(nil), r.events...)
}
