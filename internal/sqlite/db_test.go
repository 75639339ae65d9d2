package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:")
	require.NoError(t, err, "failed to create test database")

	err = db.RunMigrations()
	require.NoError(t, err, "failed to run migrations")

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestMigrations(t *testing.T) {
	db := NewTestDB(t)

	for _, table := range []string{"activity_logs", "api_keys"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err, "failed to query table %s", table)
		require.Equal(t, 1, count, "table %s not found", table)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := NewTestDB(t)
	require.NoError(t, db.RunMigrations())
}

func TestActivityLogsConstraints(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	insert := `INSERT INTO activity_logs
		(id, user_id, operation_type, entity_type, entity_name, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, 1, 1)`

	_, err := db.ExecContext(ctx, insert, "a1", "u1", "create", "todo", "Buy milk", "pending")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "a2", "u1", "rename", "todo", "x", "pending")
	require.Error(t, err, "should reject unknown operation type")

	_, err = db.ExecContext(ctx, insert, "a3", "u1", "create", "board", "x", "pending")
	require.Error(t, err, "should reject unknown entity type")

	_, err = db.ExecContext(ctx, insert, "a4", "u1", "create", "todo", "x", "running")
	require.Error(t, err, "should reject unknown status")
}
