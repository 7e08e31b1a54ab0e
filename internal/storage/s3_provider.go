package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Provider struct {
	client        *s3.Client
	downloader    *manager.Downloader
	defaultBucket string
}

var _ Provider = (*S3Provider)(nil)

func NewS3Provider(ctx context.Context, cfg S3ClientConfig, defaultBucket string) (*S3Provider, error) {
	client, err := initializeS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	return &S3Provider{
		client:        client,
		downloader:    manager.NewDownloader(client),
		defaultBucket: defaultBucket,
	}, nil
}

func (p *S3Provider) Name() string {
	return "s3"
}

func (p *S3Provider) Close() error {
	return nil
}

func (p *S3Provider) DownloadObject(ctx context.Context, path, filename string) error {
	obj, err := ParseObjectPath(path, SchemeS3, p.defaultBucket)
	if err != nil {
		return err
	}
	if obj.Scheme != SchemeS3 {
		return fmt.Errorf("s3 provider cannot fetch %s", obj)
	}

	err = writeFile(filename, func(f *os.File) error {
		_, err := p.downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(obj.Bucket),
			Key:    aws.String(obj.Key),
		})
		if err != nil {
			return fmt.Errorf("failed to download object %s to %s: %w", obj, filename, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("object downloaded", "bucket", obj.Bucket, "key", obj.Key, "dest", filename)
	return nil
}
