package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/itshen/AI-message-hook/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DriverType represents the database driver type.
type DriverType string

const (
	// DriverSQLite represents the SQLite database driver.
	DriverSQLite DriverType = "sqlite"
	// DriverPostgres represents the PostgreSQL database driver.
	DriverPostgres DriverType = "postgres"
	// DriverMySQL represents the MySQL database driver.
	DriverMySQL DriverType = "mysql"
)

// ParseDriver maps a configuration string onto a DriverType. Empty means SQLite.
func ParseDriver(s string) (DriverType, error) {
	switch d := DriverType(strings.ToLower(strings.TrimSpace(s))); d {
	case "", DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	case DriverPostgres, "postgresql", "pgx":
		return DriverPostgres, nil
	case DriverMySQL:
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", s)
	}
}

// dialect is the goose dialect name for the driver.
func (d DriverType) dialect() string {
	switch d {
	case DriverPostgres:
		return migrations.DialectPostgres
	case DriverMySQL:
		return migrations.DialectMySQL
	default:
		return migrations.DialectSQLite
	}
}

// FullConfig contains the complete database configuration for all drivers.
type FullConfig struct {
	// Driver specifies which database driver to use (sqlite, postgres, mysql).
	Driver DriverType
	// Path is the path to the SQLite database file.
	Path string
	// DatabaseURL is the PostgreSQL or MySQL connection string.
	DatabaseURL string
	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
	// SkipMigrations opens the connection without applying pending migrations.
	SkipMigrations bool
}

// DefaultFullConfig returns a default database configuration.
func DefaultFullConfig() FullConfig {
	return FullConfig{
		Driver:          DriverSQLite,
		Path:            "data/message-hook.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// NewFromConfig creates a new database connection based on the configuration.
func NewFromConfig(config FullConfig) (*DB, error) {
	switch config.Driver {
	case DriverSQLite, "":
		return newSQLiteDB(config)
	case DriverPostgres:
		return newPostgresDB(config)
	case DriverMySQL:
		return newMySQLDB(config)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

// newSQLiteDB creates a new SQLite database connection.
func newSQLiteDB(config FullConfig) (*DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required for SQLite driver")
	}
	if config.Path != ":memory:" {
		if err := ensureDirExists(filepath.Dir(config.Path)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Timestamps are stored and read back in UTC.
	db, err := sql.Open("sqlite3", config.Path+"?_journal=WAL&_foreign_keys=on&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// In-memory SQLite databases are per-connection; a single connection keeps one schema.
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return finishOpen(db, DriverSQLite, config)
}

// finishOpen applies migrations unless disabled and wraps the handle.
func finishOpen(db *sql.DB, driver DriverType, config FullConfig) (*DB, error) {
	if !config.SkipMigrations {
		if err := migrations.NewMigrationRunner(db, driver.dialect()).Up(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %s migrations: %w", driver, err)
		}
	}
	return &DB{db: db, driver: driver}, nil
}

// Migrations returns a runner bound to this connection's dialect.
func (d *DB) Migrations() *migrations.MigrationRunner {
	return migrations.NewMigrationRunner(d.db, d.driver.dialect())
}
