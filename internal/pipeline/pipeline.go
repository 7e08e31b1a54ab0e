package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"assembly-orchestrator/internal/config"
	"assembly-orchestrator/internal/manifest"
	"assembly-orchestrator/internal/runner"
	"assembly-orchestrator/internal/storage"
)

const (
	AssemblyDirName = "megahit"
	ContigsFileName = "final.contigs.fa"
)

type Options struct {
	// RootDir is the working directory of external tools that take paths
	// relative to the run root, such as the reference database.
	RootDir   string
	TmpDir    string
	ResultDir string

	Megahit string
	Shell   string

	WrapperScript       string
	ReferenceDB         string
	MemoryFraction      float64
	MinKmer             int
	SimilarityThreshold float64
	ExtraArgs           []string

	// Interleaved inputs carry both mates in the Path1 files; Path2 is unused.
	Interleaved bool
	Policy      string
	KeepWorkDir bool
}

func OptionsFromConfig(cfg *config.Config, megahit, shell string, interleaved bool) (Options, error) {
	extra, err := cfg.ExtraAssemblerArgs()
	if err != nil {
		return Options{}, err
	}
	return Options{
		RootDir:             cfg.RootDir,
		TmpDir:              cfg.TmpDir(),
		ResultDir:           cfg.ResultDir(),
		Megahit:             megahit,
		Shell:               shell,
		WrapperScript:       cfg.Resolve(cfg.WrapperScript),
		ReferenceDB:         cfg.ReferenceDB,
		MemoryFraction:      cfg.MemoryFraction,
		MinKmer:             cfg.MinKmer,
		SimilarityThreshold: cfg.SimilarityThreshold,
		ExtraArgs:           extra,
		Interleaved:         interleaved,
		Policy:              cfg.StageFailurePolicy,
		KeepWorkDir:         cfg.KeepWorkDir,
	}, nil
}

type Pipeline struct {
	opts  Options
	fetch storage.Provider
	run   runner.Runner
}

func New(opts Options, fetch storage.Provider, run runner.Runner) *Pipeline {
	if opts.Megahit == "" {
		opts.Megahit = "megahit"
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyBestEffort
	}
	return &Pipeline{opts: opts, fetch: fetch, run: run}
}

func (p *Pipeline) WorkDir(sample string) string {
	return filepath.Join(p.opts.TmpDir, sample)
}

func (p *Pipeline) AssemblyDir(sample string) string {
	return filepath.Join(p.WorkDir(sample), AssemblyDirName)
}

func (p *Pipeline) LabeledContigs(sample string) string {
	return filepath.Join(p.AssemblyDir(sample), sample+"."+ContigsFileName)
}

func (p *Pipeline) SampleResultDir(sample string) string {
	return filepath.Join(p.opts.ResultDir, sample)
}

// InputName is the local name of the i-th (1-based) file of a read direction.
func InputName(direction, i int) string {
	return fmt.Sprintf("input%d_%d.fastq.gz", direction, i)
}

type execution struct {
	p       *Pipeline
	ctx     context.Context
	res     *Result
	logger  *slog.Logger
	stopped bool
}

// step runs one stage unless an earlier stage stopped the sample. A failing
// stage stops the sample when fatal is set or the policy is abort.
func (e *execution) step(stage Stage, fatal bool, fn func() error) {
	if e.stopped || e.ctx.Err() != nil {
		e.res.Stages = append(e.res.Stages, StageResult{Stage: stage, Status: StatusSkipped})
		return
	}

	e.logger.Info("running stage", "stage", stage)
	start := time.Now()
	err := fn()
	sr := StageResult{Stage: stage, Status: StatusOK, Duration: time.Since(start)}

	if err != nil {
		sr.Status = StatusFailed
		sr.Err = err
		if e.res.Err == nil {
			e.res.Err = fmt.Errorf("%w: %s: %w", ErrStageFailed, stage, err)
		}
		e.logger.Error("stage failed", "stage", stage, "error", err)
		if fatal || e.p.opts.Policy == config.PolicyAbort || e.ctx.Err() != nil {
			e.stopped = true
		}
	} else {
		e.logger.Info("stage finished correctly", "stage", stage, "elapsed", sr.Duration.Round(time.Millisecond))
	}

	e.res.Stages = append(e.res.Stages, sr)
}

// Run executes every stage for one sample. It never returns an error; the
// outcome is reported in the Result.
func (p *Pipeline) Run(ctx context.Context, sample manifest.Sample, threads int) *Result {
	logger := slog.Default().With("sample", sample.Name)
	res := &Result{Sample: sample.Name, Threads: threads}
	e := &execution{p: p, ctx: ctx, res: res, logger: logger}

	logger.Info("processing sample", "forward", strings.Join(sample.Forward, ","), "threads", threads)

	if !p.opts.Interleaved {
		if sample.Mismatched() {
			res.Mismatched = true
			logger.Warn("number of forward and reverse read files do not match",
				"forward", len(sample.Forward), "reverse", len(sample.Reverse))
			if p.opts.Policy == config.PolicyAbort {
				e.stopped = true
				res.Err = fmt.Errorf("sample %s: %d forward and %d reverse files", sample.Name, len(sample.Forward), len(sample.Reverse))
			}
		} else {
			logger.Info("using paired-end files for assembly", "files", len(sample.Forward))
		}
	}

	var forward, reverse []string

	e.step(StageAcquire, true, func() error {
		var err error
		forward, reverse, err = p.acquire(ctx, sample)
		return err
	})

	e.step(StageAssemble, false, func() error {
		return p.assemble(ctx, sample.Name, forward, reverse, threads)
	})

	e.step(StageLabel, false, func() error {
		return copyFile(filepath.Join(p.AssemblyDir(sample.Name), ContigsFileName), p.LabeledContigs(sample.Name))
	})

	e.step(StagePostProcess, false, func() error {
		return p.run.Run(ctx, runner.Command{
			Name: p.opts.Shell,
			Args: []string{
				p.opts.WrapperScript,
				p.LabeledContigs(sample.Name),
				p.opts.ReferenceDB,
				formatFloat(p.opts.SimilarityThreshold),
			},
			Dir: p.opts.RootDir,
		})
	})

	e.step(StageCollect, false, func() error {
		return p.collect(sample.Name)
	})

	if !res.Failed() && !p.opts.KeepWorkDir {
		if err := os.RemoveAll(p.WorkDir(sample.Name)); err != nil {
			logger.Warn("failed to remove working directory", "error", err)
		}
	}

	if res.Failed() {
		logger.Error("sample finished with errors", "error", res.Err)
	} else {
		logger.Info("sample finished")
	}
	return res
}

func (p *Pipeline) acquire(ctx context.Context, sample manifest.Sample) (forward, reverse []string, err error) {
	workDir := p.WorkDir(sample.Name)
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return nil, nil, fmt.Errorf("failed to create working directory %s: %w", workDir, err)
	}

	fetchAll := func(direction int, paths []string) ([]string, error) {
		local := make([]string, 0, len(paths))
		for i, remote := range paths {
			dest := filepath.Join(workDir, InputName(direction, i+1))
			if err := p.fetch.DownloadObject(ctx, remote, dest); err != nil {
				return nil, fmt.Errorf("failed to fetch %s: %w", remote, err)
			}
			local = append(local, dest)
		}
		return local, nil
	}

	if len(sample.Forward) == 0 {
		return nil, nil, errors.New("no forward read files listed")
	}

	slog.Info("fetching read files", "sample", sample.Name, "provider", p.fetch.Name(), "dir", workDir)

	if forward, err = fetchAll(1, sample.Forward); err != nil {
		return nil, nil, err
	}
	if !p.opts.Interleaved {
		if len(sample.Reverse) == 0 {
			return nil, nil, errors.New("no reverse read files listed")
		}
		if reverse, err = fetchAll(2, sample.Reverse); err != nil {
			return nil, nil, err
		}
	}
	return forward, reverse, nil
}

// AssembleArgs builds the assembler argument list. Read files are joined with
// commas in manifest order.
func (p *Pipeline) AssembleArgs(sample string, forward, reverse []string, threads int) []string {
	var args []string
	if p.opts.Interleaved {
		args = append(args, "--12", strings.Join(forward, ","))
	} else {
		args = append(args, "-1", strings.Join(forward, ","), "-2", strings.Join(reverse, ","))
	}
	args = append(args,
		"-m", formatFloat(p.opts.MemoryFraction),
		"-t", strconv.Itoa(threads),
		"--k-min", strconv.Itoa(p.opts.MinKmer),
	)
	args = append(args, p.opts.ExtraArgs...)
	return append(args, "-o", p.AssemblyDir(sample))
}

func (p *Pipeline) assemble(ctx context.Context, sample string, forward, reverse []string, threads int) error {
	// The assembler refuses to write into an existing output directory.
	if err := os.RemoveAll(p.AssemblyDir(sample)); err != nil {
		return fmt.Errorf("failed to clear previous assembly output: %w", err)
	}

	abs := func(paths []string) []string {
		out := make([]string, len(paths))
		for i, path := range paths {
			if a, err := filepath.Abs(path); err == nil {
				out[i] = a
			} else {
				out[i] = path
			}
		}
		return out
	}

	return p.run.Run(ctx, runner.Command{
		Name: p.opts.Megahit,
		Args: p.AssembleArgs(sample, abs(forward), abs(reverse), threads),
		Dir:  p.WorkDir(sample),
	})
}

func (p *Pipeline) collect(sample string) error {
	dest := p.SampleResultDir(sample)
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create result directory %s: %w", dest, err)
	}
	if err := copyTree(p.AssemblyDir(sample), dest); err != nil {
		return fmt.Errorf("failed to copy results to %s: %w", dest, err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
