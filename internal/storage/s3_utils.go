package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sequencing cores usually expose an S3 gateway (MinIO, Ceph) rather than AWS
// itself, so Endpoint is honoured and path-style addressing is always used.
type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Gateways ignore the region but the SDK refuses to sign without one.
const defaultGatewayRegion = "us-east-1"

func (c S3ClientConfig) loadOptions(creds aws.CredentialsProvider) []func(*aws_config.LoadOptions) error {
	var opts []func(*aws_config.LoadOptions) error

	region := c.Region
	if region == "" && c.Endpoint != "" {
		region = defaultGatewayRegion
	}
	if region != "" {
		opts = append(opts, aws_config.WithRegion(region))
	}
	if creds != nil {
		opts = append(opts, aws_config.WithCredentialsProvider(creds))
	}
	return opts
}

func (c S3ClientConfig) staticCredentials() aws.CredentialsProvider {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")
}

func initializeS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(ctx, cfg.loadOptions(cfg.staticCredentials())...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	// Public buckets are readable without credentials; fall back to anonymous
	// access when none can be found in the environment or ~/.aws.
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		slog.Info("no s3 credentials found, using anonymous access", "endpoint", cfg.Endpoint)
		awsCfg, err = aws_config.LoadDefaultConfig(ctx, cfg.loadOptions(aws.AnonymousCredentials{})...)
		if err != nil {
			return nil, fmt.Errorf("failed to load anonymous aws config: %w", err)
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	}), nil
}
