package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Run struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Manifest     string `gorm:"not null"`
	Status       string `gorm:"size:24;not null"`
	Concurrency  int
	ThreadBudget int

	SampleCount int `gorm:"default:0"`
	FailedCount int `gorm:"default:0"`

	StartTime      time.Time
	CompletionTime sql.NullTime

	Samples []SampleRun `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type SampleRun struct {
	RunId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sample   string    `gorm:"primaryKey"`
	Position int

	Status     string `gorm:"size:20;not null"`
	Threads    int
	Mismatched bool `gorm:"default:false"`
	Error      sql.NullString

	Stages []StageRun `gorm:"foreignKey:RunId,Sample;references:RunId,Sample;constraint:OnDelete:CASCADE"`
}

type StageRun struct {
	RunId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sample   string    `gorm:"primaryKey"`
	Stage    string    `gorm:"primaryKey"`
	Position int

	Status     string `gorm:"size:20;not null"`
	Error      sql.NullString
	DurationMs int64
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Run{}, &SampleRun{}, &StageRun{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
