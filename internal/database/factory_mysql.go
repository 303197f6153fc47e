//go:build mysql

package database

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// newMySQLDB creates a new MySQL database connection.
// This implementation is only available when built with the 'mysql' build tag.
func newMySQLDB(config FullConfig) (*DB, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for MySQL driver")
	}

	dsn, err := normalizeMySQLDSN(config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	return finishOpen(db, DriverMySQL, config)
}

// normalizeMySQLDSN forces parseTime so DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DATABASE_URL: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
