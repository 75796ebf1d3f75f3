// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SetsWALAndCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.sqlite")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestMigrate_AppliesPendingStepsOnce(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "m.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	steps := []string{
		`CREATE TABLE a (id INTEGER PRIMARY KEY)`,
	}
	v, err := Migrate(ctx, db, steps)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Re-running is a no-op; a new step is applied on top.
	steps = append(steps, `ALTER TABLE a ADD COLUMN name TEXT`)
	v, err = Migrate(ctx, db, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = db.Exec(`INSERT INTO a (name) VALUES ('x')`)
	require.NoError(t, err)
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "m.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("PRAGMA user_version = 7")
	require.NoError(t, err)

	_, err = Migrate(ctx, db, []string{`CREATE TABLE a (id INTEGER)`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this binary")
}

func TestMigrate_FailedStepLeavesVersion(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "m.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	v, err := Migrate(ctx, db, []string{`CREATE TABLE a (id INTEGER)`, `NOT SQL`})
	require.Error(t, err)
	assert.Equal(t, 1, v)

	var current int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&current))
	assert.Equal(t, 1, current)
}

func TestVerify_HealthyDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "v.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, data TEXT)`)
	require.NoError(t, err)

	for _, mode := range []CheckMode{CheckQuick, CheckFull} {
		issues, err := Verify(context.Background(), db, mode)
		require.NoError(t, err)
		assert.Nil(t, issues, string(mode))
	}
}
