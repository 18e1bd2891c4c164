//go:build integration

package storage

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fred-ingest/internal/config"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fred",
				"POSTGRES_PASSWORD": "fred",
				"POSTGRES_DB":       "fred",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return config.DatabaseConfig{
		Driver:       "postgres",
		DSN:          fmt.Sprintf("postgres://fred:fred@%s:%s/fred?sslmode=disable", host, port.Port()),
		MaxOpenConns: 4,
	}
}

func TestPostgresStoreIntegration(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()

	store, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	table := ObservationTable("observations_all")
	require.NoError(t, store.CreateTableIfAbsent(ctx, table))

	rows := ObservationRows(sampleObservations())
	n, err := store.InsertMany(ctx, table, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.InsertMany(ctx, table, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	fps, err := store.Fingerprints(ctx, table.Name)
	require.NoError(t, err)
	assert.Len(t, fps, 2)

	recs, err := store.SelectAll(ctx, table.Name, []string{"series_id", "value"})
	require.NoError(t, err)
	require.Len(t, recs.Rows, 2)
	assert.Equal(t, "UNRATE", recs.Rows[0][0])

	locker, ok := store.(AdvisoryLocker)
	require.True(t, ok)
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, acquired)
	unlock()
}
