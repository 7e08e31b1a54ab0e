package integrationtests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioImage    = "minio/minio:RELEASE.2024-01-16T16-07-38Z"
	minioUsername = "admin"
	minioPassword = "password"
	minioRegion   = "us-east-1"

	postgresImage = "postgres:16-alpine"
)

// terminateOnCleanup stops the container when the test finishes.
func terminateOnCleanup(t *testing.T, name string, c testcontainers.Container) {
	t.Cleanup(func() {
		require.NoError(t, c.Terminate(context.Background()), "failed to terminate %s container", name)
	})
}

// startMinio returns the http endpoint of a fresh MinIO server.
func startMinio(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := minio.Run(ctx, minioImage,
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "failed to start minio")
	terminateOnCleanup(t, "minio", container)

	hostPort, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return "http://" + hostPort
}

// startPostgres returns a DSN for an empty ledger database.
func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("ledger"),
		postgres.WithUsername("assembly"),
		postgres.WithPassword("assembly"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres")
	terminateOnCleanup(t, "postgres", container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
