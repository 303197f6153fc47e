//go:build !mysql

package database

import "fmt"

// newMySQLDB is a stub that returns an error when MySQL support
// is not compiled in. Build with -tags mysql to enable it.
func newMySQLDB(_ FullConfig) (*DB, error) {
	return nil, fmt.Errorf("MySQL support not compiled in; build with -tags mysql to enable")
}
