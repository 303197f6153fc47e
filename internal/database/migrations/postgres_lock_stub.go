//go:build !postgres

package migrations

import "fmt"

// acquirePostgresLock is a stub used when PostgreSQL support is not compiled in.
func (m *MigrationRunner) acquirePostgresLock() (func(), error) {
	return nil, fmt.Errorf("PostgreSQL advisory locking requires the 'postgres' build tag")
}
