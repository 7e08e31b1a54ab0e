package database

import (
	"log/slog"

	"assembly-orchestrator/internal/database/versions/migration_0"
	"assembly-orchestrator/internal/database/versions/migration_1"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

var migrations = []*gormigrate.Migration{
	{ID: "0", Migrate: migration_0.Migration},
	{ID: "1", Migrate: migration_1.Migration, Rollback: migration_1.Rollback},
}

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, migrations)

	// A new ledger gets the current schema in one step and every migration is
	// marked as applied.
	migrator.InitSchema(func(txn *gorm.DB) error {
		slog.Info("creating ledger schema", "driver", txn.Dialector.Name())

		if isSqlite(txn) {
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				slog.Error("error enabling foreign keys for SQLite", "error", err)
			}
		}
		return txn.AutoMigrate(&Run{}, &SampleRun{}, &StageRun{})
	})

	return migrator
}

func isSqlite(db *gorm.DB) bool {
	name := db.Dialector.Name()
	return name == "sqlite" || name == "sqlite3"
}
