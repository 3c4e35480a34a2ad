package rbac

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// TestPostgresEnv names the variable holding a PostgreSQL URL for integration tests
const TestPostgresEnv = "PERMGATE_TEST_POSTGRES"

// SkipIfNoDatabase skips the test if PERMGATE_TEST_POSTGRES is not set
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv(TestPostgresEnv)
	if dbURL == "" {
		t.Skipf("Skipping test: %s environment variable not set (database not available)", TestPostgresEnv)
	}

	return dbURL
}

// RequireDatabase connects to the configured PostgreSQL database or skips the test
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	return db
}

// IsDatabaseAvailable returns true if PERMGATE_TEST_POSTGRES is set (does not test connection)
func IsDatabaseAvailable() bool {
	return os.Getenv(TestPostgresEnv) != ""
}
