package database

import (
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewMigrator_Validation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fails with empty migrations path", func(t *testing.T) {
		migrator, err := NewMigrator(&DB{}, "", logger)
		assert.Nil(t, migrator)
		assert.ErrorContains(t, err, "migrations path is required")
	})

	t.Run("fails with missing migrations path", func(t *testing.T) {
		migrator, err := NewMigrator(&DB{}, "/nonexistent/migrations", logger)
		assert.Nil(t, migrator)
		assert.ErrorContains(t, err, "migrations path validation failed")
	})

	t.Run("fails with nil database", func(t *testing.T) {
		migrator, err := NewMigrator(nil, t.TempDir(), logger)
		assert.Nil(t, migrator)
		assert.ErrorContains(t, err, "database is required")
	})

	t.Run("fails with nil pool", func(t *testing.T) {
		migrator, err := NewMigrator(&DB{pool: nil}, t.TempDir(), logger)
		assert.Nil(t, migrator)
		assert.ErrorContains(t, err, "database pool not initialized")
	})
}

func TestNewEmbeddedMigrator_Validation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fails with nil filesystem", func(t *testing.T) {
		migrator, err := NewEmbeddedMigrator(&DB{}, nil, logger)
		assert.Nil(t, migrator)
		assert.ErrorContains(t, err, "migrations filesystem is required")
	})

	t.Run("fails with nil pool", func(t *testing.T) {
		fsys := fstest.MapFS{"000001_init.up.sql": {Data: []byte("SELECT 1;")}}
		migrator, err := NewEmbeddedMigrator(&DB{}, fsys, logger)
		assert.Nil(t, migrator)
		assert.ErrorContains(t, err, "database pool not initialized")
	})
}
