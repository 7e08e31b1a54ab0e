package cmd

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsFlagsAfterPositionals(t *testing.T) {
	fs := flag.NewFlagSet("assemble", flag.ContinueOnError)
	interleaved := fs.Bool("interleaved", false, "")
	env := fs.String("env", "", "")

	pos, err := ParseArgs(fs, []string{"samples.tsv", "--interleaved", "12", "-env", "run.env"})
	require.NoError(t, err)

	assert.Equal(t, []string{"samples.tsv", "12"}, pos)
	assert.True(t, *interleaved)
	assert.Equal(t, "run.env", *env)
}

func TestParseArgsEqualsAndTerminator(t *testing.T) {
	fs := flag.NewFlagSet("kronabatch", flag.ContinueOnError)
	max := fs.Int("max", 27, "")

	pos, err := ParseArgs(fs, []string{"--max=5", "--", "-odd-prefix"})
	require.NoError(t, err)

	assert.Equal(t, 5, *max)
	assert.Equal(t, []string{"-odd-prefix"}, pos)
}

func TestParseArgsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("assemble", flag.ContinueOnError)
	fs.SetOutput(&nopWriter{})

	_, err := ParseArgs(fs, []string{"--nope", "x"})
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	defer slog.SetLogLoggerLevel(slog.LevelInfo)
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "tmp", "run.log")
	f, err := SetupLogging(path, "debug")
	require.NoError(t, err)
	defer f.Close()

	slog.Debug("hello", "sample", "S1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sample=S1")

	_, err = SetupLogging(path, "loud")
	assert.Error(t, err)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
