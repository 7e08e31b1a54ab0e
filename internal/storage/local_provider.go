package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalProvider serves files that already exist on a local or mounted
// filesystem. Relative paths resolve against dir.
type LocalProvider struct {
	dir string
}

var _ Provider = (*LocalProvider)(nil)

func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

func (p *LocalProvider) Name() string {
	return "local"
}

func (p *LocalProvider) Close() error {
	return nil
}

func (p *LocalProvider) resolve(path string) (string, error) {
	obj, err := ParseObjectPath(path, SchemeLocal, "")
	if err != nil {
		return "", err
	}
	if obj.Scheme != SchemeLocal {
		return "", fmt.Errorf("local provider cannot fetch %s", obj)
	}
	if filepath.IsAbs(obj.Key) {
		return obj.Key, nil
	}
	return filepath.Join(p.dir, obj.Key), nil
}

func (p *LocalProvider) DownloadObject(ctx context.Context, path, filename string) error {
	src, err := p.resolve(path)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	return writeFile(filename, func(f *os.File) error {
		if _, err := io.Copy(f, &contextReader{ctx: ctx, r: in}); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", src, filename, err)
		}
		return nil
	})
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
