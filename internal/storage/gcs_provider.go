package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Endpoint        string
	CredentialsFile string
}

type GCSProvider struct {
	client        *storage.Client
	defaultBucket string
}

var _ Provider = (*GCSProvider)(nil)

func NewGCSProvider(ctx context.Context, cfg GCSConfig, defaultBucket string) (*GCSProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google storage client: %w", err)
	}

	return &GCSProvider{client: client, defaultBucket: defaultBucket}, nil
}

func (p *GCSProvider) Name() string {
	return "gcs"
}

func (p *GCSProvider) Close() error {
	return p.client.Close()
}

func (p *GCSProvider) DownloadObject(ctx context.Context, path, filename string) error {
	obj, err := ParseObjectPath(path, SchemeGCS, p.defaultBucket)
	if err != nil {
		return err
	}
	if obj.Scheme != SchemeGCS {
		return fmt.Errorf("gcs provider cannot fetch %s", obj)
	}

	rdr, err := p.client.Bucket(obj.Bucket).Object(obj.Key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", obj, err)
	}
	defer rdr.Close()

	err = writeFile(filename, func(f *os.File) error {
		if _, err := io.Copy(f, rdr); err != nil {
			return fmt.Errorf("failed to download %s to %s: %w", obj, filename, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("object downloaded", "bucket", obj.Bucket, "object", obj.Key, "dest", filename)
	return nil
}
