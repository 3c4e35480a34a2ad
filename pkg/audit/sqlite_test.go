package audit_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permgate/pkg/audit"
	"github.com/platinummonkey/permgate/pkg/rbac"
)

func TestDBLogger_SQLiteRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, rbac.ApplySQLiteSchema(ctx, db))

	logger, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	actor := int64(3)
	old := &audit.AuditEvent{
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
		EventType: audit.EventTypeAuthzTeamChange,
		Status:    audit.EventStatusSuccess,
		UserID:    &actor,
		Message:   "member added",
	}
	require.NoError(t, logger.Log(ctx, old))

	require.NoError(t, logger.LogAuthorization(ctx, audit.EventTypeAuthzAccessDenied, nil,
		audit.ResourceTypePermission, "settings:read", audit.EventStatusDenied, "missing settings:read"))

	denied := audit.EventStatusDenied
	events, err := logger.Search(ctx, audit.SearchFilter{Status: &denied})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthzAccessDenied, events[0].EventType)
	assert.Equal(t, "settings:read", events[0].ResourceID)
	assert.Nil(t, events[0].UserID)

	n, err := logger.Purge(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err = logger.Search(ctx, audit.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
