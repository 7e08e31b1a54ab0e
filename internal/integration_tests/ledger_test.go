package integrationtests

import (
	"context"
	"errors"
	"testing"
	"time"

	"assembly-orchestrator/internal/database"
	"assembly-orchestrator/internal/manifest"
	"assembly-orchestrator/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLedger(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db, err := database.Open(startPostgres(t, ctx))
	require.NoError(t, err)
	defer database.Close(db) //nolint:errcheck

	ledger := database.NewLedger(db)

	samples := []manifest.Sample{
		{Name: "S1", Forward: []string{"a_R1"}, Reverse: []string{"a_R2"}},
		{Name: "S2", Forward: []string{"b_R1"}, Reverse: []string{"b_R2"}},
	}
	run, err := ledger.StartRun(ctx, database.RunParams{Manifest: "samples.tsv", Concurrency: 3, ThreadBudget: 12}, samples)
	require.NoError(t, err)

	ok := &pipeline.Result{Sample: "S1", Threads: 4}
	bad := &pipeline.Result{Sample: "S2", Threads: 4, Err: errors.New("acquire: object not found")}
	for _, stage := range pipeline.Stages {
		ok.Stages = append(ok.Stages, pipeline.StageResult{Stage: stage, Status: pipeline.StatusOK, Duration: time.Second})
		status := pipeline.StatusSkipped
		if stage == pipeline.StageAcquire {
			status = pipeline.StatusFailed
		}
		bad.Stages = append(bad.Stages, pipeline.StageResult{Stage: stage, Status: status})
	}

	require.NoError(t, run.RecordSample(ctx, ok))
	require.NoError(t, run.RecordSample(ctx, bad))
	require.NoError(t, run.Finish(ctx, []*pipeline.Result{ok, bad}))

	stored, err := ledger.GetRun(ctx, run.RunId)
	require.NoError(t, err)
	assert.Equal(t, database.RunCompletedWithError, stored.Status)
	assert.Equal(t, 1, stored.FailedCount)
	require.Len(t, stored.Samples, 2)
	assert.Equal(t, database.SampleCompleted, stored.Samples[0].Status)
	assert.Equal(t, database.SampleFailed, stored.Samples[1].Status)
	assert.Len(t, stored.Samples[1].Stages, len(pipeline.Stages))
	assert.Equal(t, string(pipeline.StatusFailed), stored.Samples[1].Stages[0].Status)
}
