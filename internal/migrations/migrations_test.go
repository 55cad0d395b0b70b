package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "profile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestList_Ordered(t *testing.T) {
	migrations, err := List()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
	assert.Equal(t, 1, migrations[0].Version)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS kv")
}

func TestApply_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	migrations, err := List()
	require.NoError(t, err)

	applied, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), applied)

	applied, err = Apply(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, applied)

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	_, err = db.Exec("INSERT INTO kv (key, value) VALUES ('k', 'v')")
	assert.NoError(t, err)
}
