// Package migrations provides database migration functionality using goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

// goose dialect names understood by the runner.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

//go:embed sql
var embedded embed.FS

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// MigrationRunner manages database migrations using goose.
type MigrationRunner struct {
	db      *sql.DB
	dialect string
	fsys    fs.FS
	dir     string
}

// NewMigrationRunner creates a runner over the migrations compiled into the binary
// for the given dialect.
func NewMigrationRunner(db *sql.DB, dialect string) *MigrationRunner {
	dir := "sql/sqlite"
	switch dialect {
	case DialectPostgres:
		dir = "sql/postgres"
	case DialectMySQL:
		dir = "sql/mysql"
	}
	return &MigrationRunner{db: db, dialect: dialect, fsys: embedded, dir: dir}
}

// NewDirMigrationRunner creates a runner over SQL files in a directory on disk.
func NewDirMigrationRunner(db *sql.DB, dialect, path string) *MigrationRunner {
	return &MigrationRunner{db: db, dialect: dialect, fsys: os.DirFS(path), dir: "."}
}

// Dialect returns the goose dialect the runner uses.
func (m *MigrationRunner) Dialect() string {
	return m.dialect
}

func (m *MigrationRunner) validate() error {
	if m.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if m.fsys == nil || m.dir == "" {
		return fmt.Errorf("migrations path is empty")
	}
	return nil
}

// prepare points goose at the runner's dialect and files. Callers hold gooseMu.
func (m *MigrationRunner) prepare() error {
	goose.SetBaseFS(m.fsys)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(m.dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// Up applies all pending migrations.
// Each migration runs in a transaction and will be rolled back if it fails.
// A lock prevents concurrent migrations from several instances.
func (m *MigrationRunner) Up() error {
	if err := m.validate(); err != nil {
		return err
	}

	release, err := m.acquireMigrationLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := m.prepare(); err != nil {
		return err
	}
	if err := goose.Up(m.db, m.dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *MigrationRunner) Down() error {
	if err := m.validate(); err != nil {
		return err
	}

	release, err := m.acquireMigrationLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := m.prepare(); err != nil {
		return err
	}
	if err := goose.Down(m.db, m.dir); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Status returns the current migration version.
// Returns 0 if no migrations have been applied.
func (m *MigrationRunner) Status() (int64, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := m.prepare(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

// Latest returns the highest migration version available to the runner.
func (m *MigrationRunner) Latest() (int64, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(m.fsys)
	migrations, err := goose.CollectMigrations(m.dir, 0, goose.MaxVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to collect migrations: %w", err)
	}
	last, err := migrations.Last()
	if err != nil {
		return 0, fmt.Errorf("no migrations found: %w", err)
	}
	return last.Version, nil
}

// acquireMigrationLock acquires a lock to prevent concurrent migrations.
// Returns a release function that must be called to release the lock.
func (m *MigrationRunner) acquireMigrationLock() (func(), error) {
	switch m.dialect {
	case DialectPostgres:
		return m.acquirePostgresLock()
	case DialectMySQL:
		return m.acquireMySQLLock()
	default:
		return m.acquireSQLiteLock()
	}
}

// acquireSQLiteLock acquires a lock using a SQLite lock table.
func (m *MigrationRunner) acquireSQLiteLock() (func(), error) {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS migration_lock (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			locked BOOLEAN NOT NULL DEFAULT 0,
			locked_at DATETIME,
			locked_by TEXT,
			process_id INTEGER
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock table: %w", err)
	}

	_, _ = m.db.Exec(`INSERT OR IGNORE INTO migration_lock (id, locked) VALUES (1, 0)`)

	maxRetries := 10
	retryDelay := 100 * time.Millisecond
	processID := os.Getpid()

	for i := 0; i < maxRetries; i++ {
		result, err := m.db.Exec(`
			UPDATE migration_lock
			SET locked = 1, locked_at = CURRENT_TIMESTAMP, locked_by = ?, process_id = ?
			WHERE id = 1 AND locked = 0
		`, fmt.Sprintf("pid-%d", processID), processID)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		if n, err := result.RowsAffected(); err == nil && n == 1 {
			release := func() {
				_, _ = m.db.Exec(`UPDATE migration_lock SET locked = 0 WHERE id = 1`)
			}
			return release, nil
		}

		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("migration lock is already held by another process (retried %d times)", maxRetries)
}
