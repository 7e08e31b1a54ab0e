package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"assembly-orchestrator/cmd"
	"assembly-orchestrator/internal/config"
	"assembly-orchestrator/internal/krona"
	"assembly-orchestrator/internal/runner"
	"assembly-orchestrator/internal/tools"
)

const usage = `usage: kronabatch [flags] <output_prefix>

Renders the krona reports in a directory into <output_prefix>_krona<N>.html
pages, at most -max reports per page.

flags:
`

func main() {
	fs := flag.NewFlagSet("kronabatch", flag.ExitOnError)
	envFile := fs.String("env", "", "path to load env from")
	dir := fs.String("dir", ".", "directory holding the reports")
	pattern := fs.String("pattern", "", "report file pattern (default KRONA_PATTERN)")
	maxPerBatch := fs.Int("max", 0, "reports per page (default KRONA_MAX_PER_BATCH)")
	tool := fs.String("tool", "", "path to ktImportText")
	dryRun := fs.Bool("dry-run", false, "print the commands instead of running them")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	args, err := cmd.ParseArgs(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("error parsing arguments: %v", err)
	}
	if len(args) != 1 {
		fs.Usage()
		os.Exit(1)
	}
	prefix := args[0]

	cmd.LoadEnvFile(*envFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *pattern != "" {
		cfg.KronaPattern = *pattern
	}
	if *maxPerBatch != 0 {
		cfg.KronaMaxPerBatch = *maxPerBatch
	}
	if cfg.KronaMaxPerBatch < 1 {
		log.Fatalf("reports per page must be positive, got %d", cfg.KronaMaxPerBatch)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
		slog.SetLogLoggerLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	renderer := &krona.Renderer{
		Dir:      *dir,
		Runner:   runner.NewExecRunner(os.Stdout),
		DryRun:   *dryRun,
		Out:      os.Stdout,
		Progress: os.Stderr,
	}
	if !*dryRun {
		locator, err := tools.LoadLocator(cfg.ToolsFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if *tool != "" {
			locator = tools.NewLocator(map[string]string{tools.KtImport: *tool})
		}
		if err := locator.Require(tools.KtImport); err != nil {
			log.Fatalf("%v", err)
		}
		renderer.Tool = locator.MustPath(tools.KtImport)
	} else {
		renderer.Tool = tools.KtImport
		if *tool != "" {
			renderer.Tool = *tool
		}
	}

	files, err := krona.ListReports(*dir, cfg.KronaPattern)
	if err != nil {
		log.Fatalf("%v", err)
	}
	// Reports are passed relative to the renderer's working directory.
	for i, f := range files {
		files[i] = relativeTo(*dir, f)
	}

	batches := krona.MakeBatches(files, cfg.KronaMaxPerBatch)
	slog.Info("rendering reports", "reports", len(files), "pages", len(batches), "prefix", prefix)

	if err := renderer.Render(ctx, prefix, batches); err != nil {
		stop()
		log.Fatalf("rendering failed: %v", err)
	}
}

func relativeTo(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return rel
}
