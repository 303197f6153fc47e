//go:build postgres

package migrations

import (
	"fmt"
	"time"
)

// acquirePostgresLock acquires an advisory lock using PostgreSQL's pg_try_advisory_lock.
// The lock is released when the connection closes at the latest.
func (m *MigrationRunner) acquirePostgresLock() (func(), error) {
	// fixed ID shared by every instance of this service
	const lockID = 7305626105

	maxRetries := 10
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var acquired bool
		err := m.db.QueryRow("SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
		if err != nil {
			return nil, fmt.Errorf("failed to try advisory lock: %w", err)
		}

		if acquired {
			release := func() {
				_, _ = m.db.Exec("SELECT pg_advisory_unlock($1)", lockID)
			}
			return release, nil
		}

		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to acquire PostgreSQL advisory lock after %d retries", maxRetries)
}
