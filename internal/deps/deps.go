// Package deps stages the shared reference data and helper repositories the
// per-sample pipeline reads, and removes them once every sample is done.
package deps

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"assembly-orchestrator/internal/runner"

	"github.com/klauspost/compress/gzip"
)

type Options struct {
	RootDir string
	Archive string
	Repos   []string
	Git     string
}

// Prepared lists the top-level directories created under RootDir.
type Prepared struct {
	Dirs []string
}

func Prepare(ctx context.Context, run runner.Runner, opts Options) (*Prepared, error) {
	created := map[string]bool{}

	if opts.Archive != "" {
		dirs, err := ExtractArchive(opts.Archive, opts.RootDir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("dependency archive not found, skipping extraction", "archive", opts.Archive)
		case err != nil:
			return nil, err
		default:
			for _, d := range dirs {
				created[d] = true
			}
			slog.Info("extracted dependency archive", "archive", opts.Archive, "dirs", dirs)
		}
	}

	for _, repo := range opts.Repos {
		name := RepoDir(repo)
		dest := filepath.Join(opts.RootDir, name)
		if _, err := os.Stat(dest); err == nil {
			slog.Info("dependency repository already present", "repo", repo, "dir", dest)
			continue
		}

		git := opts.Git
		if git == "" {
			git = "git"
		}
		err := run.Run(ctx, runner.Command{Name: git, Args: []string{"clone", "--depth", "1", repo, dest}, Dir: opts.RootDir})
		if err != nil {
			// The pipeline only depends on the archive; a failed clone is not fatal.
			slog.Warn("failed to clone dependency repository", "repo", repo, "error", err)
			continue
		}
		created[dest] = true
	}

	dirs := make([]string, 0, len(created))
	for d := range created {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	return &Prepared{Dirs: dirs}, nil
}

// Cleanup removes every prepared directory, continuing past failures.
func (p *Prepared) Cleanup() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, d := range p.Dirs {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", d, err))
			continue
		}
		slog.Info("removed dependency directory", "dir", d)
	}
	return errors.Join(errs...)
}

// RepoDir is the directory git clone would create for url.
func RepoDir(url string) string {
	name := path.Base(strings.TrimRight(url, "/"))
	return strings.TrimSuffix(name, ".git")
}

// ExtractArchive unpacks a .tar.gz into dest and returns the absolute paths of
// the top-level entries it created. Entries that already existed are left out
// so that cleanup never removes them. Entries resolving outside dest, through
// their names or through symlinks, are rejected.
func ExtractArchive(archive, dest string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip stream %s: %w", archive, err)
	}
	defer gz.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	realDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dest, err)
	}

	// top-level entry -> created by this extraction
	top := map[string]bool{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive %s: %w", archive, err)
		}

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", archive, err)
		}
		if target == "" {
			continue
		}

		first := filepath.Join(dest, strings.SplitN(filepath.ToSlash(filepath.Clean(hdr.Name)), "/", 2)[0])
		if _, seen := top[first]; !seen {
			_, err := os.Lstat(first)
			top[first] = errors.Is(err, os.ErrNotExist)
		}

		if err := checkParent(realDest, target); err != nil {
			return nil, fmt.Errorf("archive %s: entry %s: %w", archive, hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := removeSymlink(target); err != nil {
				return nil, err
			}
			if err := extractFile(tr, target, hdr.FileInfo().Mode()); err != nil {
				return nil, err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !within(dest, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
				return nil, fmt.Errorf("archive %s: symlink %s -> %s escapes destination", archive, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create directory for %s: %w", target, err)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return nil, fmt.Errorf("failed to create symlink %s: %w", target, err)
			}
		default:
			slog.Debug("skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	var dirs []string
	for d, created := range top {
		if created {
			dirs = append(dirs, d)
		} else {
			slog.Info("archive entry already present, keeping it after the run", "path", d)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return "", nil
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %s escapes destination", name)
	}
	return filepath.Join(dest, clean), nil
}

// checkParent resolves the deepest existing ancestor of target and fails if it
// lies outside realDest.
func checkParent(realDest, target string) error {
	dir := filepath.Dir(target)
	for {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if !within(realDest, real) {
		return fmt.Errorf("%s resolves outside destination", dir)
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// removeSymlink replaces a symlink at target so a file entry never writes
// through it.
func removeSymlink(target string) error {
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("failed to replace symlink %s: %w", target, err)
	}
	return nil
}

func extractFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return out.Close()
}
