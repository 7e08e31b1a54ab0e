package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assembly-orchestrator/internal/manifest"
	"assembly-orchestrator/internal/pipeline"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRunNotFound = errors.New("run not found")

type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

type RunParams struct {
	Manifest     string
	Concurrency  int
	ThreadBudget int
	Interleaved  bool
	RemoteFetch  bool
}

// RunLedger records the outcome of a single orchestrator run.
type RunLedger struct {
	db    *gorm.DB
	RunId uuid.UUID
}

// StartRun registers a run and queues every sample of the manifest.
func (l *Ledger) StartRun(ctx context.Context, params RunParams, samples []manifest.Sample) (*RunLedger, error) {
	run := Run{
		Id:           uuid.New(),
		Manifest:     params.Manifest,
		Status:       RunRunning,
		Concurrency:  params.Concurrency,
		ThreadBudget: params.ThreadBudget,
		Interleaved:  params.Interleaved,
		RemoteFetch:  params.RemoteFetch,
		SampleCount:  len(samples),
		StartTime:    time.Now().UTC(),
	}
	for i, sample := range samples {
		run.Samples = append(run.Samples, SampleRun{
			RunId:      run.Id,
			Sample:     sample.Name,
			Position:   i,
			Status:     SampleQueued,
			Mismatched: sample.Mismatched(),
		})
	}

	if err := l.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating run", "error", err)
		return nil, fmt.Errorf("error creating run: %w", err)
	}

	slog.Info("run registered", "run_id", run.Id, "samples", len(samples))
	return &RunLedger{db: l.db, RunId: run.Id}, nil
}

func (r *RunLedger) RecordSample(ctx context.Context, res *pipeline.Result) error {
	status := SampleCompleted
	if res.Failed() {
		status = SampleFailed
	}

	stages := make([]StageRun, 0, len(res.Stages))
	for i, sr := range res.Stages {
		stages = append(stages, StageRun{
			RunId:      r.RunId,
			Sample:     res.Sample,
			Stage:      string(sr.Stage),
			Position:   i,
			Status:     string(sr.Status),
			Error:      nullError(sr.Err),
			DurationMs: sr.Duration.Milliseconds(),
		})
	}

	return r.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		result := txn.Model(&SampleRun{}).
			Where("run_id = ? AND sample = ?", r.RunId, res.Sample).
			Updates(map[string]any{
				"status":     status,
				"threads":    res.Threads,
				"mismatched": res.Mismatched,
				"error":      nullError(res.Err),
			})
		if result.Error != nil {
			slog.Error("error updating sample", "run_id", r.RunId, "sample", res.Sample, "error", result.Error)
			return fmt.Errorf("error updating sample %s: %w", res.Sample, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("sample %s is not part of run %s", res.Sample, r.RunId)
		}

		if len(stages) == 0 {
			return nil
		}
		if err := txn.Clauses(clause.OnConflict{UpdateAll: true}).Create(&stages).Error; err != nil {
			slog.Error("error saving stages", "run_id", r.RunId, "sample", res.Sample, "error", err)
			return fmt.Errorf("error saving stages for sample %s: %w", res.Sample, err)
		}
		return nil
	})
}

// Finish closes the run. A nil results slice marks the run as aborted.
func (r *RunLedger) Finish(ctx context.Context, results []*pipeline.Result) error {
	status := RunAborted
	failed := 0
	if results != nil {
		for _, res := range results {
			if res != nil && res.Failed() {
				failed++
			}
		}
		status = RunCompleted
		if failed > 0 {
			status = RunCompletedWithError
		}
	}

	err := r.db.WithContext(ctx).Model(&Run{Id: r.RunId}).Updates(map[string]any{
		"status":          status,
		"failed_count":    failed,
		"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}).Error
	if err != nil {
		slog.Error("error finishing run", "run_id", r.RunId, "error", err)
		return fmt.Errorf("error finishing run: %w", err)
	}
	return nil
}

func (l *Ledger) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	var run Run
	err := l.db.WithContext(ctx).
		Preload("Samples", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Samples.Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("error loading run %s: %w", id, err)
	}
	return run, nil
}

func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	if err := l.db.WithContext(ctx).Order("start_time DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

func nullError(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
