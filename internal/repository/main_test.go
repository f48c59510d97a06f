package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsdash/dashboard-server/internal/database"
	"github.com/opsdash/dashboard-server/internal/util"
)

// setupTestDB connects to TEST_DATABASE_URL, applies migrations and empties
// the user and session tables. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	_, err = db.ExecContext(ctx, `TRUNCATE user_sessions, user_accounts RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

// seedUser inserts a user with the given role name and returns its id.
func seedUser(t *testing.T, db *database.DB, username, role string) int64 {
	t.Helper()

	hash, err := util.HashPassword("password", 4)
	require.NoError(t, err)

	var id int64
	err = db.GetContext(context.Background(), &id, `
		INSERT INTO user_accounts (username, name, password_hash, role_id)
		SELECT $1, $1, $2, id FROM roles WHERE name = $3
		RETURNING id
	`, username, hash, role)
	require.NoError(t, err)
	return id
}
