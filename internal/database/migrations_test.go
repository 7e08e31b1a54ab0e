package database

import (
	"path/filepath"
	"testing"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrationUpgradeAndRollback(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	// A ledger created before the run flags existed.
	require.NoError(t, gormigrate.New(db, gormigrate.DefaultOptions, migrations[:1]).Migrate())
	assert.True(t, db.Migrator().HasTable(&Run{}))
	assert.False(t, db.Migrator().HasColumn(&Run{}, "remote_fetch"))
	assert.False(t, db.Migrator().HasColumn(&Run{}, "interleaved"))

	migrator := GetMigrator(db)
	require.NoError(t, migrator.Migrate())
	assert.True(t, db.Migrator().HasColumn(&Run{}, "remote_fetch"))
	assert.True(t, db.Migrator().HasColumn(&Run{}, "interleaved"))

	require.NoError(t, migrator.RollbackLast())
	assert.False(t, db.Migrator().HasColumn(&Run{}, "remote_fetch"))
	assert.False(t, db.Migrator().HasColumn(&Run{}, "interleaved"))
	assert.True(t, db.Migrator().HasTable(&SampleRun{}))
}
