package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// SetupTestDB creates an in-memory SQLite database with all migrations applied.
// It is closed when the test completes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every pooled connection would otherwise get its own empty database.
	conn.SetMaxOpenConns(1)

	require.NoError(t, conn.PingContext(context.Background()))

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
	} {
		_, err = conn.ExecContext(context.Background(), pragma)
		require.NoError(t, err)
	}

	require.NoError(t, Migrate(context.Background(), conn))

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// SetupTestDBWithData creates a test database and runs setupFunc on it after
// migrations are applied.
func SetupTestDBWithData(t *testing.T, setupFunc func(*sql.DB)) *sql.DB {
	t.Helper()

	conn := SetupTestDB(t)
	if setupFunc != nil {
		setupFunc(conn)
	}
	return conn
}

// CreateTestSession inserts an active session with the given models in
// speaking order.
func CreateTestSession(conn *sql.DB, sessionID, title string, models ...string) error {
	ctx := context.Background()
	q := New(conn)
	if _, err := q.CreateSession(ctx, CreateSessionParams{
		ID:        sessionID,
		Title:     title,
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}); err != nil {
		return err
	}
	for i, m := range models {
		if err := q.AddSessionModel(ctx, AddSessionModelParams{
			SessionID: sessionID,
			Position:  int64(i),
			ModelID:   m,
		}); err != nil {
			return err
		}
	}
	return nil
}
