package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type Run struct {
	Interleaved bool `gorm:"default:false"`
	RemoteFetch bool `gorm:"default:false"`
}

func Migration(db *gorm.DB) error {
	for _, column := range []string{"interleaved", "remote_fetch"} {
		if err := db.Migrator().AddColumn(&Run{}, column); err != nil {
			return fmt.Errorf("error adding %s column: %w", column, err)
		}
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	for _, column := range []string{"Interleaved", "RemoteFetch"} {
		if err := db.Migrator().DropColumn(&Run{}, column); err != nil {
			return fmt.Errorf("error dropping %s column: %w", column, err)
		}
	}
	return nil
}
