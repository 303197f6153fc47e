//go:build postgres

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFromConfig_PostgresMissingURL(t *testing.T) {
	db, err := NewFromConfig(FullConfig{Driver: DriverPostgres})
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}
