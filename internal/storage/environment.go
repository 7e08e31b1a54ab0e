package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var ErrMissingUserName = errors.New("environment file has no user_name")

// Environment describes the remote store reads are fetched from. It is read
// from a JSON file only when remote fetch is enabled. irods_user_name is
// accepted for files written for the iRODS icommands.
type Environment struct {
	UserName      string `json:"user_name"`
	IrodsUserName string `json:"irods_user_name"`

	Backend         string `json:"backend"`
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	CredentialsFile string `json:"credentials_file"`
	Root            string `json:"root"`
}

func (e *Environment) User() string {
	if e.UserName != "" {
		return e.UserName
	}
	return e.IrodsUserName
}

func LoadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading environment file %s: %w", path, err)
	}

	var env Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("error parsing environment file %s: %w", path, err)
	}

	if env.User() == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingUserName)
	}
	if env.Backend == "" {
		env.Backend = SchemeS3
	}
	if env.Root != "" && !filepath.IsAbs(env.Root) {
		env.Root = filepath.Join(filepath.Dir(path), env.Root)
	}

	return &env, nil
}

func NewProvider(ctx context.Context, env *Environment) (Provider, error) {
	var (
		provider Provider
		err      error
	)

	switch env.Backend {
	case SchemeS3:
		provider, err = NewS3Provider(ctx, S3ClientConfig{
			Endpoint:        env.Endpoint,
			Region:          env.Region,
			AccessKeyID:     env.AccessKeyID,
			SecretAccessKey: env.SecretAccessKey,
		}, env.Bucket)
	case "gcs", SchemeGCS:
		provider, err = NewGCSProvider(ctx, GCSConfig{
			Endpoint:        env.Endpoint,
			CredentialsFile: env.CredentialsFile,
		}, env.Bucket)
	case "local", SchemeLocal:
		provider = NewLocalProvider(env.Root)
	default:
		return nil, fmt.Errorf("unknown storage backend '%s'", env.Backend)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("remote fetch session opened", "backend", provider.Name(), "user", env.User(), "bucket", env.Bucket)
	return provider, nil
}

func NewProviderFromEnvironment(ctx context.Context, path string) (Provider, error) {
	env, err := LoadEnvironment(path)
	if err != nil {
		return nil, err
	}
	return NewProvider(ctx, env)
}
