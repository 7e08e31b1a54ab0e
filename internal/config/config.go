package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/shlex"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	PolicyBestEffort = "best-effort"
	PolicyAbort      = "abort"
)

type Config struct {
	RootDir       string `env:"ROOT_DIR"`
	TmpDirName    string `env:"TMP_DIR_NAME" envDefault:"tmp"`
	ResultDirName string `env:"RESULT_DIR_NAME" envDefault:"assembly_results"`
	LogFileName   string `env:"LOG_FILE_NAME" envDefault:"run.log"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Samples processed at once. Independent of the thread budget given on the
	// command line, which is split evenly between them.
	SimultaneousSamples int     `env:"SIMULTANEOUS_SAMPLES" envDefault:"3"`
	MemoryFraction      float64 `env:"MEMORY_FRACTION" envDefault:"0.5"`
	MinKmer             int     `env:"MIN_KMER" envDefault:"31"`
	SimilarityThreshold float64 `env:"SIMILARITY_THRESHOLD" envDefault:"0.6"`
	// Extra assembler flags, split with shell quoting rules.
	AssemblerExtraArgs string `env:"ASSEMBLER_EXTRA_ARGS"`

	WrapperScript     string   `env:"WRAPPER_SCRIPT" envDefault:"src/01_shortReadAssembly/tabasco_wrapper.sh"`
	ReferenceDB       string   `env:"REFERENCE_DB" envDefault:"assembly_dependencies/transcript_seqs"`
	DependencyArchive string   `env:"DEPENDENCY_ARCHIVE" envDefault:"data/assembly_dependencies.tar.gz"`
	DependencyRepos   []string `env:"DEPENDENCY_REPOS"`

	StageFailurePolicy string `env:"STAGE_FAILURE_POLICY" envDefault:"best-effort"`
	KeepWorkDir        bool   `env:"KEEP_WORKDIR" envDefault:"true"`

	RemoteEnvFile string `env:"REMOTE_ENV_FILE" envDefault:"~/.irods/irods_environment.json"`
	ToolsFile     string `env:"TOOLS_FILE"`
	LedgerDSN     string `env:"LEDGER_DSN"`

	KronaMaxPerBatch int    `env:"KRONA_MAX_PER_BATCH" envDefault:"27"`
	KronaPattern     string `env:"KRONA_PATTERN" envDefault:"*.report.krona"`
}

// Load parses the process environment and fills RootDir with the working
// directory when it is unset.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.RootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error resolving working directory: %w", err)
		}
		cfg.RootDir = wd
	}

	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", cfg.RootDir, err)
	}
	cfg.RootDir = root

	cfg.RemoteEnvFile = expandHome(cfg.RemoteEnvFile)

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.SimultaneousSamples < 1 || c.SimultaneousSamples > 64 {
		errs = append(errs, fmt.Errorf("SIMULTANEOUS_SAMPLES must be in [1, 64], got %d", c.SimultaneousSamples))
	}
	if c.MemoryFraction <= 0 || c.MemoryFraction > 1 {
		errs = append(errs, fmt.Errorf("MEMORY_FRACTION must be in (0, 1], got %g", c.MemoryFraction))
	}
	if c.MinKmer < 15 || c.MinKmer > 255 || c.MinKmer%2 == 0 {
		errs = append(errs, fmt.Errorf("MIN_KMER must be odd and in [15, 255], got %d", c.MinKmer))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("SIMILARITY_THRESHOLD must be in [0, 1], got %g", c.SimilarityThreshold))
	}
	if _, err := c.ExtraAssemblerArgs(); err != nil {
		errs = append(errs, err)
	}
	if c.KronaMaxPerBatch < 1 {
		errs = append(errs, fmt.Errorf("KRONA_MAX_PER_BATCH must be positive, got %d", c.KronaMaxPerBatch))
	}
	if c.StageFailurePolicy != PolicyBestEffort && c.StageFailurePolicy != PolicyAbort {
		errs = append(errs, fmt.Errorf("STAGE_FAILURE_POLICY must be %q or %q, got %q", PolicyBestEffort, PolicyAbort, c.StageFailurePolicy))
	}
	for name, dir := range map[string]string{"TMP_DIR_NAME": c.TmpDirName, "RESULT_DIR_NAME": c.ResultDirName} {
		if dir == "" || strings.ContainsRune(dir, filepath.Separator) || dir == "." || dir == ".." {
			errs = append(errs, fmt.Errorf("%s must be a single directory name, got %q", name, dir))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) ExtraAssemblerArgs() ([]string, error) {
	if strings.TrimSpace(c.AssemblerExtraArgs) == "" {
		return nil, nil
	}
	args, err := shlex.Split(c.AssemblerExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("ASSEMBLER_EXTRA_ARGS is not a valid argument list: %w", err)
	}
	return args, nil
}

func (c *Config) TmpDir() string {
	return filepath.Join(c.RootDir, c.TmpDirName)
}

func (c *Config) ResultDir() string {
	return filepath.Join(c.RootDir, c.ResultDirName)
}

func (c *Config) LogPath() string {
	return filepath.Join(c.TmpDir(), c.LogFileName)
}

func (c *Config) WorkDir(sample string) string {
	return filepath.Join(c.TmpDir(), sample)
}

func (c *Config) SampleResultDir(sample string) string {
	return filepath.Join(c.ResultDir(), sample)
}

// Resolve anchors a relative path at RootDir.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.RootDir, path)
}

// LedgerTarget returns the configured ledger DSN or the default sqlite file in
// the temp directory.
func (c *Config) LedgerTarget() string {
	if c.LedgerDSN != "" {
		return c.LedgerDSN
	}
	return filepath.Join(c.TmpDir(), "runs.db")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
