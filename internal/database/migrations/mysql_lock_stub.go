//go:build !mysql

package migrations

import "fmt"

// acquireMySQLLock is a stub used when MySQL support is not compiled in.
func (m *MigrationRunner) acquireMySQLLock() (func(), error) {
	return nil, fmt.Errorf("MySQL named locking requires the 'mysql' build tag")
}
