package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"assembly-orchestrator/cmd"
	"assembly-orchestrator/internal/config"
	"assembly-orchestrator/internal/database"
	"assembly-orchestrator/internal/deps"
	"assembly-orchestrator/internal/manifest"
	"assembly-orchestrator/internal/orchestrator"
	"assembly-orchestrator/internal/pipeline"
	"assembly-orchestrator/internal/runner"
	"assembly-orchestrator/internal/storage"
	"assembly-orchestrator/internal/tools"
)

const usage = `usage: assemble [flags] <manifest.tsv> <threads>

Assembles every sample in the manifest with megahit, running
SIMULTANEOUS_SAMPLES samples at once and splitting <threads> between them.

flags:
`

func main() {
	fs := flag.NewFlagSet("assemble", flag.ExitOnError)
	envFile := fs.String("env", "", "path to load env from")
	interleaved := fs.Bool("interleaved", false, "reads are interleaved pairs in the Path1 column")
	remote := fs.Bool("irods", false, "fetch reads through the remote environment in REMOTE_ENV_FILE")
	strict := fs.Bool("strict", false, "exit with status 2 when any sample fails")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	args, err := cmd.ParseArgs(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("error parsing arguments: %v", err)
	}
	if len(args) != 2 {
		fs.Usage()
		os.Exit(1)
	}
	manifestPath := args[0]
	threadBudget, err := strconv.Atoi(args[1])
	if err != nil || threadBudget < 1 {
		log.Fatalf("threads must be a positive integer, got %q", args[1])
	}

	cmd.LoadEnvFile(*envFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logFile, err := cmd.SetupLogging(cfg.LogPath(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, cfg, runArgs{
		manifest:     manifestPath,
		threadBudget: threadBudget,
		interleaved:  *interleaved,
		remote:       *remote,
	}, logFile)
	if err != nil {
		slog.Error("assembly run failed", "error", err)
		logFile.Close()
		os.Exit(1)
	}

	if *strict && failed > 0 {
		slog.Error("samples failed", "failed", failed)
		logFile.Close()
		os.Exit(2)
	}
}

type runArgs struct {
	manifest     string
	threadBudget int
	interleaved  bool
	remote       bool
}

func run(ctx context.Context, cfg *config.Config, args runArgs, logFile *os.File) (int, error) {
	slog.Info("starting assembly", "root", cfg.RootDir, "manifest", args.manifest, "threads", args.threadBudget,
		"simultaneous", cfg.SimultaneousSamples, "interleaved", args.interleaved, "remote", args.remote)

	samples, err := manifest.Load(args.manifest)
	if err != nil {
		return 0, err
	}

	locator, err := tools.LoadLocator(cfg.ToolsFile)
	if err != nil {
		return 0, err
	}
	required := []string{tools.Megahit, tools.Shell}
	if len(cfg.DependencyRepos) > 0 {
		required = append(required, tools.Git)
	}
	if err := locator.Require(required...); err != nil {
		return 0, err
	}

	provider, err := newProvider(ctx, cfg, args.remote)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			slog.Warn("error closing storage provider", "provider", provider.Name(), "error", err)
		}
	}()

	db, err := database.Open(cfg.LedgerTarget())
	if err != nil {
		return 0, err
	}
	defer database.Close(db) //nolint:errcheck

	runLedger, err := database.NewLedger(db).StartRun(ctx, database.RunParams{
		Manifest:     args.manifest,
		Concurrency:  cfg.SimultaneousSamples,
		ThreadBudget: args.threadBudget,
		Interleaved:  args.interleaved,
		RemoteFetch:  args.remote,
	}, samples)
	if err != nil {
		return 0, err
	}

	results, err := assemble(ctx, cfg, args, samples, locator, provider, runLedger, runner.NewExecRunner(logFile))

	// The ledger is closed out even when the run was interrupted.
	if ferr := runLedger.Finish(context.WithoutCancel(ctx), results); ferr != nil {
		slog.Error("failed to finish run ledger", "run_id", runLedger.RunId, "error", ferr)
	}
	if err != nil {
		return 0, err
	}

	failed := orchestrator.CountFailed(results)
	for _, res := range results {
		if res.Failed() {
			slog.Warn("sample failed", "sample", res.Sample, "error", res.Err)
		}
	}
	slog.Info("assembly finished", "run_id", runLedger.RunId, "samples", len(results), "failed", failed)
	return failed, nil
}

func assemble(
	ctx context.Context,
	cfg *config.Config,
	args runArgs,
	samples []manifest.Sample,
	locator *tools.Locator,
	provider storage.Provider,
	recorder orchestrator.Recorder,
	exec runner.Runner,
) ([]*pipeline.Result, error) {
	var git string
	if len(cfg.DependencyRepos) > 0 {
		git = locator.MustPath(tools.Git)
	}

	prepared, err := deps.Prepare(ctx, exec, deps.Options{
		RootDir: cfg.RootDir,
		Archive: cfg.Resolve(cfg.DependencyArchive),
		Repos:   cfg.DependencyRepos,
		Git:     git,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dependencies: %w", err)
	}

	opts, err := pipeline.OptionsFromConfig(cfg, locator.MustPath(tools.Megahit), locator.MustPath(tools.Shell), args.interleaved)
	if err != nil {
		return nil, errors.Join(err, prepared.Cleanup())
	}

	orch := orchestrator.New(orchestrator.Options{
		Concurrency:  cfg.SimultaneousSamples,
		ThreadBudget: args.threadBudget,
		TmpDir:       cfg.TmpDir(),
		ResultDir:    cfg.ResultDir(),
		Dependencies: prepared,
	}, pipeline.New(opts, provider, exec), recorder)

	results, err := orch.Run(ctx, samples)
	if err != nil {
		return nil, errors.Join(err, prepared.Cleanup())
	}
	return results, nil
}

func newProvider(ctx context.Context, cfg *config.Config, remote bool) (storage.Provider, error) {
	if !remote {
		slog.Info("remote fetch disabled, reading inputs from the local filesystem", "root", cfg.RootDir)
		return storage.NewLocalProvider(cfg.RootDir), nil
	}

	provider, err := storage.NewProviderFromEnvironment(ctx, cfg.RemoteEnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote session: %w", err)
	}
	slog.Info("remote session opened", "provider", provider.Name(), "environment", cfg.RemoteEnvFile)
	return provider, nil
}
