package krona

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"assembly-orchestrator/internal/runner"

	"github.com/schollz/progressbar/v3"
)

type Renderer struct {
	// Tool is the renderer executable, usually ktImportText.
	Tool   string
	Dir    string
	Runner runner.Runner

	// DryRun prints each command line to Out instead of running it.
	DryRun bool
	Out    io.Writer

	// Progress, when set, receives a progress bar.
	Progress io.Writer
}

// Render issues one command per batch, in order. Every batch is attempted; the
// failures are returned joined.
func (r *Renderer) Render(ctx context.Context, prefix string, batches []Batch) error {
	if len(batches) == 0 {
		slog.Info("no reports to render")
		return nil
	}

	var bar *progressbar.ProgressBar
	if r.Progress != nil && !r.DryRun {
		bar = progressbar.NewOptions(len(batches),
			progressbar.OptionSetWriter(r.Progress),
			progressbar.OptionSetDescription("rendering krona pages"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	var errs []error
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		cmd := runner.Command{Name: r.Tool, Args: batch.Args(prefix), Dir: r.Dir}
		if r.DryRun {
			if r.Out != nil {
				fmt.Fprintln(r.Out, cmd.String())
			}
			continue
		}

		slog.Info("rendering batch", "batch", batch.Index, "reports", len(batch.Reports), "output", batch.Output(prefix))
		if err := r.Runner.Run(ctx, cmd); err != nil {
			slog.Error("error rendering batch", "batch", batch.Index, "output", batch.Output(prefix), "error", err)
			errs = append(errs, fmt.Errorf("batch %d (%s): %w", batch.Index, batch.Output(prefix), err))
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	return errors.Join(errs...)
}
