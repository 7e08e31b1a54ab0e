package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"assembly-orchestrator/internal/deps"
	"assembly-orchestrator/internal/manifest"
	"assembly-orchestrator/internal/pipeline"
	"assembly-orchestrator/internal/utils"
)

type SampleRunner interface {
	Run(ctx context.Context, sample manifest.Sample, threads int) *pipeline.Result
}

// Recorder persists per-sample outcomes as they complete.
type Recorder interface {
	RecordSample(ctx context.Context, res *pipeline.Result) error
}

type Options struct {
	// Concurrency is the number of samples processed at once.
	Concurrency int
	// ThreadBudget is split evenly between the concurrent samples.
	ThreadBudget int

	TmpDir    string
	ResultDir string

	// Dependencies are removed once every sample has finished.
	Dependencies *deps.Prepared
}

type Orchestrator struct {
	opts     Options
	pipeline SampleRunner
	recorder Recorder
}

func New(opts Options, pipeline SampleRunner, recorder Recorder) *Orchestrator {
	return &Orchestrator{opts: opts, pipeline: pipeline, recorder: recorder}
}

// ThreadsPerSample is the per-sample share of the thread budget, floor(T/K).
func ThreadsPerSample(budget, concurrency int) int {
	if concurrency < 1 {
		return budget
	}
	return budget / concurrency
}

type workItem struct {
	index  int
	sample manifest.Sample
}

// Run processes every sample and returns their results in input order. The
// returned error covers setup only; per-sample failures are reported in the
// results.
func (o *Orchestrator) Run(ctx context.Context, samples []manifest.Sample) ([]*pipeline.Result, error) {
	if o.opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", o.opts.Concurrency)
	}
	if o.opts.ThreadBudget < 1 {
		return nil, fmt.Errorf("thread budget must be positive, got %d", o.opts.ThreadBudget)
	}

	if err := o.prepareDirs(samples); err != nil {
		return nil, err
	}

	threads := ThreadsPerSample(o.opts.ThreadBudget, o.opts.Concurrency)
	if threads < 1 {
		slog.Warn("thread budget is smaller than the number of simultaneous samples, using 1 thread per sample",
			"threads", o.opts.ThreadBudget, "simultaneous", o.opts.Concurrency)
		threads = 1
	}

	slog.Info("starting assembly run", "samples", len(samples), "simultaneous", o.opts.Concurrency, "threadsPerSample", threads)
	start := time.Now()

	queue := make(chan workItem, len(samples))
	for i, s := range samples {
		queue <- workItem{index: i, sample: s}
	}
	close(queue)

	completed := make(chan utils.CompletedTask[*pipeline.Result], len(samples))
	utils.RunInPool(func(item workItem) (*pipeline.Result, error) {
		return o.runSample(ctx, item, threads), nil
	}, queue, completed, o.opts.Concurrency)

	byName := make(map[string]int, len(samples))
	for i, s := range samples {
		byName[s.Name] = i
	}

	results := make([]*pipeline.Result, len(samples))
	for task := range completed {
		if task.Error != nil || task.Result == nil {
			slog.Error("worker failed without a result", "error", task.Error)
			continue
		}
		res := task.Result
		results[byName[res.Sample]] = res

		if o.recorder != nil {
			if err := o.recorder.RecordSample(ctx, res); err != nil {
				slog.Error("failed to record sample result", "sample", res.Sample, "error", err)
			}
		}
	}

	for i, res := range results {
		if res == nil {
			results[i] = &pipeline.Result{Sample: samples[i].Name, Threads: threads, Err: errors.New("no result reported")}
		}
	}

	if err := o.opts.Dependencies.Cleanup(); err != nil {
		slog.Warn("failed to remove dependency directories", "error", err)
	}

	failed := CountFailed(results)
	slog.Info("assembly run finished", "samples", len(results), "failed", failed, "elapsed", time.Since(start).Round(time.Second))

	return results, nil
}

// runSample isolates one sample: a panic is logged with its trace and turned
// into a failed result so other samples keep running.
func (o *Orchestrator) runSample(ctx context.Context, item workItem, threads int) (res *pipeline.Result) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			slog.Error("unexpected error", "sample", item.sample.Name, "error", r, "stack", string(stack))
			res = &pipeline.Result{
				Sample:  item.sample.Name,
				Threads: threads,
				Err:     &utils.PanicError{Value: r, Stack: stack},
			}
		}
	}()

	res = o.pipeline.Run(ctx, item.sample, threads)
	if res == nil {
		res = &pipeline.Result{Sample: item.sample.Name, Threads: threads, Err: errors.New("pipeline returned no result")}
	}
	return res
}

func (o *Orchestrator) prepareDirs(samples []manifest.Sample) error {
	dirs := []string{o.opts.TmpDir, o.opts.ResultDir}
	for _, s := range samples {
		dirs = append(dirs, filepath.Join(o.opts.TmpDir, s.Name))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func CountFailed(results []*pipeline.Result) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
