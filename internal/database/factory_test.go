package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverType_Constants(t *testing.T) {
	assert.Equal(t, DriverType("sqlite"), DriverSQLite)
	assert.Equal(t, DriverType("postgres"), DriverPostgres)
	assert.Equal(t, DriverType("mysql"), DriverMySQL)
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    DriverType
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"sqlite3", DriverSQLite, false},
		{"SQLite", DriverSQLite, false},
		{"postgresql", DriverPostgres, false},
		{" pgx ", DriverPostgres, false},
		{"mysql", DriverMySQL, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDriver(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFromConfig_Errors(t *testing.T) {
	_, err := NewFromConfig(FullConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = NewFromConfig(FullConfig{Driver: DriverSQLite})
	assert.ErrorContains(t, err, "database path is required")
}

func TestNewFromConfig_SkipMigrations(t *testing.T) {
	cfg := DefaultFullConfig()
	cfg.Path = ":memory:"
	cfg.SkipMigrations = true
	db, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='calls'").Scan(&name)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, db.Migrations().Up())
	require.NoError(t, db.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='calls'").Scan(&name))
	assert.Equal(t, "calls", name)
}

func TestRebindQuery(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}
	my := &DB{driver: DriverMySQL}

	q := "SELECT * FROM calls WHERE id = ? AND method = ?"
	assert.Equal(t, q, sqlite.RebindQuery(q))
	assert.Equal(t, q, my.RebindQuery(q))
	assert.Equal(t, "SELECT * FROM calls WHERE id = $1 AND method = $2", pg.RebindQuery(q))

	assert.Equal(t, "?, ?, ?", sqlite.PlaceholderList(3))
	assert.Equal(t, "$1, $2, $3", pg.PlaceholderList(3))
}

func TestTransaction(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO calls (id, timestamp, method, path, upstream_service, upstream_base_url,
			request_headers_original, request_headers_modified) VALUES ('x', CURRENT_TIMESTAMP, 'GET', '/', 'Unknown', '', '{}', '{}')`)
		require.NoError(t, err)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	var n int
	require.NoError(t, db.DB().QueryRow("SELECT COUNT(*) FROM calls").Scan(&n))
	assert.Equal(t, 0, n, "rolled back")

	var nilDB *DB
	assert.Error(t, nilDB.Transaction(ctx, func(*sql.Tx) error { return nil }))
	assert.NoError(t, nilDB.Close())
}
