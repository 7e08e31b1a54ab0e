package krona_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assembly-orchestrator/internal/krona"
	"assembly-orchestrator/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReports(t *testing.T, dir string, n int) []string {
	t.Helper()
	var names []string
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("S%02d_bracken.report.krona", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("1\tBacteria\n"), 0644))
		names = append(names, filepath.Join(dir, name))
	}
	return names
}

func TestListReports(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_x.report.krona", "a_x.report.krona", "notes.txt", "c.report.krona"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	files, err := krona.ListReports(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_x.report.krona"),
		filepath.Join(dir, "b_x.report.krona"),
		filepath.Join(dir, "c.report.krona"),
	}, files)

	_, err = krona.ListReports(dir, "[")
	assert.Error(t, err)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "S1", krona.Label("S1_bracken.report.krona"))
	assert.Equal(t, "S1", krona.Label("/data/run_1/S1_a_b.report.krona"))
	assert.Equal(t, "whole.report.krona", krona.Label("whole.report.krona"))
	assert.Equal(t, "", krona.Label("_lead.report.krona"))
}

func TestMakeBatches(t *testing.T) {
	files := writeReports(t, t.TempDir(), 30)

	batches := krona.MakeBatches(files, 27)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Reports, 27)
	assert.Len(t, batches[1].Reports, 3)
	assert.Equal(t, 1, batches[0].Index)
	assert.Equal(t, 2, batches[1].Index)

	var flattened []string
	for _, b := range batches {
		for _, r := range b.Reports {
			flattened = append(flattened, r.File)
		}
	}
	assert.Equal(t, files, flattened)
	assert.Equal(t, "S28", batches[1].Reports[0].Label)
}

func TestMakeBatchesCounts(t *testing.T) {
	for _, tc := range []struct {
		files, max, batches int
	}{
		{0, 27, 0}, {1, 27, 1}, {27, 27, 1}, {28, 27, 2}, {54, 27, 2}, {55, 27, 3}, {5, 1, 5},
	} {
		files := make([]string, tc.files)
		for i := range files {
			files[i] = fmt.Sprintf("f%d_x", i)
		}
		assert.Len(t, krona.MakeBatches(files, tc.max), tc.batches, "files=%d max=%d", tc.files, tc.max)
	}
}

func TestBatchArgs(t *testing.T) {
	batch := krona.MakeBatches([]string{"A_1.report.krona", "B_2.report.krona"}, 27)[0]
	assert.Equal(t, []string{"-o", "run_krona1.html", "A_1.report.krona,A", "B_2.report.krona,B"}, batch.Args("run"))
	assert.Equal(t, "run_krona3.html", krona.OutputName("run", 3))
}

func TestRenderIssuesOneCommandPerBatch(t *testing.T) {
	dir := t.TempDir()
	files := writeReports(t, dir, 30)
	rec := &runner.Recorder{}

	r := &krona.Renderer{Tool: "ktImportText", Dir: dir, Runner: rec}
	require.NoError(t, r.Render(context.Background(), "out", krona.MakeBatches(files, 27)))

	cmds := rec.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "ktImportText", cmds[0].Name)
	assert.Equal(t, []string{"-o", "out_krona1.html"}, cmds[0].Args[:2])
	assert.Len(t, cmds[0].Args, 29)
	assert.Equal(t, []string{"-o", "out_krona2.html"}, cmds[1].Args[:2])
	assert.Len(t, cmds[1].Args, 5)
}

func TestRenderNoBatches(t *testing.T) {
	rec := &runner.Recorder{}
	r := &krona.Renderer{Tool: "ktImportText", Runner: rec}
	require.NoError(t, r.Render(context.Background(), "out", krona.MakeBatches(nil, 27)))
	assert.Empty(t, rec.Commands())
}

func TestRenderContinuesAfterFailure(t *testing.T) {
	files := writeReports(t, t.TempDir(), 60)
	rec := &runner.Recorder{Fail: func(cmd runner.Command) error {
		if cmd.Args[1] == "out_krona1.html" {
			return &runner.ExitError{Command: cmd.String(), Code: 2}
		}
		return nil
	}}

	r := &krona.Renderer{Tool: "ktImportText", Runner: rec, Progress: &bytes.Buffer{}}
	err := r.Render(context.Background(), "out", krona.MakeBatches(files, 27))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out_krona1.html")

	var exitErr *runner.ExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.Len(t, rec.Commands(), 3)
}

func TestRenderDryRun(t *testing.T) {
	rec := &runner.Recorder{}
	out := &bytes.Buffer{}

	r := &krona.Renderer{Tool: "ktImportText", Runner: rec, DryRun: true, Out: out}
	require.NoError(t, r.Render(context.Background(), "out", krona.MakeBatches([]string{"A_1.report.krona"}, 27)))

	assert.Empty(t, rec.Commands())
	assert.Equal(t, "ktImportText -o out_krona1.html A_1.report.krona,A", strings.TrimSpace(out.String()))
}

func TestRenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &runner.Recorder{}
	r := &krona.Renderer{Tool: "ktImportText", Runner: rec}
	err := r.Render(ctx, "out", krona.MakeBatches([]string{"A_1", "B_1"}, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Commands())
}

func TestRenderIssuesBatchesSequentiallyInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	files, err := krona.ListReports(dir, "")
	require.NoError(t, err)
	require.Empty(t, files)

	writeReports(t, dir, 30)
	files, err = krona.ListReports(dir, "")
	require.NoError(t, err)

	var running, overlapped int
	rec := &runner.Recorder{Fail: func(runner.Command) error {
		running++
		if running > 1 {
			overlapped++
		}
		running--
		return nil
	}}

	r := &krona.Renderer{Tool: "ktImportText", Runner: rec}
	require.NoError(t, r.Render(context.Background(), "out", krona.MakeBatches(files, 27)))
	assert.Zero(t, overlapped)

	var issued []string
	for i, cmd := range rec.Commands() {
		assert.Equal(t, krona.OutputName("out", i+1), cmd.Args[1])
		for _, pair := range cmd.Args[2:] {
			issued = append(issued, strings.SplitN(pair, ",", 2)[0])
		}
	}
	assert.Equal(t, files, issued)
}
