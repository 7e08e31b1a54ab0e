package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	RunRunning            string = "RUNNING"
	RunCompleted          string = "COMPLETED"
	RunCompletedWithError string = "COMPLETED_WITH_ERRORS"
	RunAborted            string = "ABORTED"
)

const (
	SampleQueued    string = "QUEUED"
	SampleCompleted string = "COMPLETED"
	SampleFailed    string = "FAILED"
)

type Run struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Manifest     string `gorm:"not null"`
	Status       string `gorm:"size:24;not null"`
	Concurrency  int
	ThreadBudget int
	Interleaved  bool `gorm:"default:false"`
	RemoteFetch  bool `gorm:"default:false"`

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
