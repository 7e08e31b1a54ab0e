package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Provider fetches raw read files into the local filesystem. A provider is
// created once per run and shared by all workers; Close releases it after the
// pool drains.
type Provider interface {
	// DownloadObject copies the object at path to filename, creating parent
	// directories. A partially written file is removed on failure.
	DownloadObject(ctx context.Context, path, filename string) error

	Name() string

	Close() error
}

const (
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeLocal = "file"
)

type ObjectPath struct {
	Scheme string
	Bucket string
	Key    string
}

func (p ObjectPath) String() string {
	if p.Scheme == SchemeLocal {
		return p.Key
	}
	return fmt.Sprintf("%s://%s/%s", p.Scheme, p.Bucket, p.Key)
}

// ParseObjectPath accepts s3://bucket/key, gs://bucket/object, file:///path,
// or a bare key that is resolved in defaultBucket using defaultScheme.
func ParseObjectPath(path, defaultScheme, defaultBucket string) (ObjectPath, error) {
	if !strings.Contains(path, "://") {
		if defaultScheme == SchemeLocal {
			return ObjectPath{Scheme: SchemeLocal, Key: path}, nil
		}
		if defaultBucket == "" {
			return ObjectPath{}, fmt.Errorf("path '%s' has no bucket and no default bucket is configured", path)
		}
		return ObjectPath{Scheme: defaultScheme, Bucket: defaultBucket, Key: strings.TrimPrefix(path, "/")}, nil
	}

	parsed, err := url.Parse(path)
	if err != nil {
		return ObjectPath{}, fmt.Errorf("invalid object path '%s': %w", path, err)
	}

	switch parsed.Scheme {
	case SchemeS3, SchemeGCS:
		if parsed.Host == "" {
			return ObjectPath{}, fmt.Errorf("invalid object path '%s': missing bucket", path)
		}
		key := strings.TrimPrefix(parsed.Path, "/")
		if key == "" {
			return ObjectPath{}, fmt.Errorf("invalid object path '%s': missing key", path)
		}
		return ObjectPath{Scheme: parsed.Scheme, Bucket: parsed.Host, Key: key}, nil
	case SchemeLocal:
		return ObjectPath{Scheme: SchemeLocal, Key: parsed.Path}, nil
	default:
		return ObjectPath{}, fmt.Errorf("unsupported scheme '%s' in object path '%s'", parsed.Scheme, path)
	}
}

// writeFile creates filename and hands it to fill. On failure the partial
// file is removed.
func writeFile(filename string, fill func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(filename), err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	if err := fill(file); err != nil {
		file.Close()
		os.Remove(filename)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to close file %s: %w", filename, err)
	}
	return nil
}
