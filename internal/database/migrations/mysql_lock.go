//go:build mysql

package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

// acquireMySQLLock acquires a named lock using MySQL's GET_LOCK function.
// The lock is released when the connection closes at the latest.
func (m *MigrationRunner) acquireMySQLLock() (func(), error) {
	const lockName = "message-hook-migrations"
	const lockTimeout = 10 // seconds

	maxRetries := 10
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		// GET_LOCK: 1 acquired, 0 timeout, NULL error
		var result sql.NullInt64
		err := m.db.QueryRow("SELECT GET_LOCK(?, ?)", lockName, lockTimeout).Scan(&result)
		if err != nil {
			return nil, fmt.Errorf("failed to try MySQL named lock: %w", err)
		}
		if !result.Valid {
			return nil, fmt.Errorf("MySQL GET_LOCK returned NULL (error occurred)")
		}

		if result.Int64 == 1 {
			release := func() {
				_, _ = m.db.Exec("SELECT RELEASE_LOCK(?)", lockName)
			}
			return release, nil
		}

		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to acquire MySQL named lock after %d retries", maxRetries)
}
