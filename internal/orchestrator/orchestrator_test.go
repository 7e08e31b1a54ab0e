package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assembly-orchestrator/internal/deps"
	"assembly-orchestrator/internal/manifest"
	"assembly-orchestrator/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu      sync.Mutex
	calls   map[string]int
	threads []int

	running, peak atomic.Int32
	delay         time.Duration
	fail          map[string]bool
	panics        map[string]bool
}

func (f *fakePipeline) Run(ctx context.Context, sample manifest.Sample, threads int) *pipeline.Result {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[sample.Name]++
	f.threads = append(f.threads, threads)
	f.mu.Unlock()

	time.Sleep(f.delay)

	if f.panics[sample.Name] {
		panic("index out of range")
	}

	res := &pipeline.Result{Sample: sample.Name, Threads: threads}
	if f.fail[sample.Name] {
		res.Err = fmt.Errorf("%w: assemble", pipeline.ErrStageFailed)
	}
	return res
}

type memoryRecorder struct {
	mu      sync.Mutex
	samples []string
}

func (m *memoryRecorder) RecordSample(ctx context.Context, res *pipeline.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, res.Sample)
	return nil
}

func samples(n int) []manifest.Sample {
	out := make([]manifest.Sample, n)
	for i := range out {
		out[i] = manifest.Sample{Name: fmt.Sprintf("S%02d", i+1), Forward: []string{"f"}, Reverse: []string{"r"}}
	}
	return out
}

func options(t *testing.T, k, budget int) Options {
	root := t.TempDir()
	return Options{
		Concurrency:  k,
		ThreadBudget: budget,
		TmpDir:       filepath.Join(root, "tmp"),
		ResultDir:    filepath.Join(root, "assembly_results"),
	}
}

func TestThreadsPerSample(t *testing.T) {
	assert.Equal(t, 4, ThreadsPerSample(12, 3))
	assert.Equal(t, 3, ThreadsPerSample(10, 3))
	assert.Equal(t, 0, ThreadsPerSample(2, 3))
	assert.Equal(t, 16, ThreadsPerSample(16, 1))
}

func TestRunTwoSamples(t *testing.T) {
	fp := &fakePipeline{delay: 20 * time.Millisecond}
	rec := &memoryRecorder{}
	opts := options(t, 3, 12)

	results, err := New(opts, fp, rec).Run(context.Background(), samples(2))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []int{4, 4}, fp.threads)
	assert.Equal(t, int32(2), fp.peak.Load())
	assert.ElementsMatch(t, []string{"S01", "S02"}, rec.samples)

	for _, s := range []string{"S01", "S02"} {
		assert.DirExists(t, filepath.Join(opts.TmpDir, s))
	}
	assert.DirExists(t, opts.ResultDir)
}

func TestRunDispatchesEveryItemOnceWithBoundedConcurrency(t *testing.T) {
	fp := &fakePipeline{delay: 5 * time.Millisecond}
	input := samples(10)

	results, err := New(options(t, 3, 7), fp, nil).Run(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, results, 10)
	for i, res := range results {
		assert.Equal(t, input[i].Name, res.Sample, "results keep manifest order")
		assert.Equal(t, 1, fp.calls[input[i].Name])
		assert.Equal(t, 2, res.Threads)
	}
	assert.LessOrEqual(t, fp.peak.Load(), int32(3))
}

func TestRunIsolatesFailures(t *testing.T) {
	fp := &fakePipeline{
		fail:   map[string]bool{"S02": true},
		panics: map[string]bool{"S03": true},
	}

	results, err := New(options(t, 2, 4), fp, nil).Run(context.Background(), samples(4))
	require.NoError(t, err)

	assert.False(t, results[0].Failed())
	assert.ErrorIs(t, results[1].Err, pipeline.ErrStageFailed)
	require.True(t, results[2].Failed())
	assert.Contains(t, results[2].Err.Error(), "index out of range")
	assert.False(t, results[3].Failed())
	assert.Equal(t, 2, CountFailed(results))
}

func TestRunClampsThreadsToOne(t *testing.T) {
	fp := &fakePipeline{}
	results, err := New(options(t, 3, 2), fp, nil).Run(context.Background(), samples(3))
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, 1, res.Threads)
	}
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	_, err := New(options(t, 0, 4), &fakePipeline{}, nil).Run(context.Background(), samples(1))
	assert.Error(t, err)

	_, err = New(options(t, 3, 0), &fakePipeline{}, nil).Run(context.Background(), samples(1))
	assert.Error(t, err)
}

func TestRunSetupFailure(t *testing.T) {
	opts := options(t, 1, 1)
	require.NoError(t, os.MkdirAll(filepath.Dir(opts.TmpDir), os.ModePerm))
	require.NoError(t, os.WriteFile(opts.TmpDir, []byte("not a dir"), 0o644))

	fp := &fakePipeline{}
	_, err := New(opts, fp, nil).Run(context.Background(), samples(2))
	require.Error(t, err)
	assert.Empty(t, fp.calls)
}

func TestRunRemovesDependencies(t *testing.T) {
	opts := options(t, 2, 2)
	depDir := filepath.Join(t.TempDir(), "assembly_dependencies")
	require.NoError(t, os.MkdirAll(depDir, os.ModePerm))
	opts.Dependencies = &deps.Prepared{Dirs: []string{depDir}}

	_, err := New(opts, &fakePipeline{}, nil).Run(context.Background(), samples(2))
	require.NoError(t, err)
	assert.NoDirExists(t, depDir)
}

func TestRunEmptyManifest(t *testing.T) {
	results, err := New(options(t, 3, 12), &fakePipeline{}, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecorderErrorsDoNotFailRun(t *testing.T) {
	results, err := New(options(t, 1, 1), &fakePipeline{}, failingRecorder{}).Run(context.Background(), samples(2))
	require.NoError(t, err)
	assert.Equal(t, 0, CountFailed(results))
}

type failingRecorder struct{}

func (failingRecorder) RecordSample(context.Context, *pipeline.Result) error {
	return errors.New("database is locked")
}
