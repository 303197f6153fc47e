package migrations

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "failed to open test database")
	db.SetMaxOpenConns(1)
	require.NoError(t, db.Ping(), "failed to ping test database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// writeMigrationFile writes a migration file to the given directory
func writeMigrationFile(t *testing.T, dir, filename, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644)
	require.NoError(t, err, "failed to write migration file")
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n))
	return n == 1
}

func TestEmbeddedMigrations_SQLite(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)
	assert.Equal(t, DialectSQLite, runner.Dialect())

	version, err := runner.Status()
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	require.NoError(t, runner.Up())
	assert.True(t, tableExists(t, db, "calls"))
	assert.True(t, tableExists(t, db, "responses"))

	latest, err := runner.Latest()
	require.NoError(t, err)
	version, err = runner.Status()
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	// idempotent
	require.NoError(t, runner.Up())

	require.NoError(t, runner.Down())
	assert.False(t, tableExists(t, db, "calls"))
}

func TestEmbeddedMigrations_AllDialectsPresent(t *testing.T) {
	for _, dialect := range []string{DialectSQLite, DialectPostgres, DialectMySQL} {
		r := NewMigrationRunner(nil, dialect)
		entries, err := embedded.ReadDir(r.dir)
		require.NoError(t, err, dialect)
		assert.NotEmpty(t, entries, dialect)
	}
}

func TestDirMigrationRunner(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()

	writeMigrationFile(t, dir, "00001_create_a.sql", `
-- +goose Up
CREATE TABLE a (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE a;
`)
	writeMigrationFile(t, dir, "00002_create_b.sql", `
-- +goose Up
CREATE TABLE b (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE b;
`)

	runner := NewDirMigrationRunner(db, DialectSQLite, dir)
	require.NoError(t, runner.Up())
	assert.True(t, tableExists(t, db, "a"))
	assert.True(t, tableExists(t, db, "b"))

	version, err := runner.Status()
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	require.NoError(t, runner.Down())
	version, err = runner.Status()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.False(t, tableExists(t, db, "b"))
}

func TestDirMigrationRunner_FailedMigration(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeMigrationFile(t, dir, "00001_broken.sql", `
-- +goose Up
CREATE TABLE broken (;

-- +goose Down
DROP TABLE broken;
`)

	err := NewDirMigrationRunner(db, DialectSQLite, dir).Up()
	assert.Error(t, err)

	// the lock is released even when a migration fails
	var locked bool
	require.NoError(t, db.QueryRow("SELECT locked FROM migration_lock WHERE id = 1").Scan(&locked))
	assert.False(t, locked)
}

func TestMigrationRunner_Validation(t *testing.T) {
	assert.ErrorContains(t, NewMigrationRunner(nil, DialectSQLite).Up(), "database connection is nil")
	_, err := NewMigrationRunner(nil, DialectSQLite).Status()
	assert.Error(t, err)

	db := setupTestDB(t)
	r := &MigrationRunner{db: db, dialect: DialectSQLite}
	assert.ErrorContains(t, r.Up(), "migrations path is empty")
}

func TestSQLiteLock_HeldElsewhere(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)

	release, err := runner.acquireSQLiteLock()
	require.NoError(t, err)

	_, err = runner.acquireSQLiteLock()
	assert.ErrorContains(t, err, "already held")

	release()
	release2, err := runner.acquireSQLiteLock()
	require.NoError(t, err)
	release2()
}
