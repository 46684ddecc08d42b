//go:build integration

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("idflow"),
		tcpostgres.WithUsername("idflow"),
		tcpostgres.WithPassword("idflow"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	store, err := OpenPostgres(ctx, PostgresConfig{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, Entry{
			FlowID:     id,
			Mode:       "identify",
			Outcome:    "success",
			ExternalID: "ext-" + id,
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "c", entries[0].FlowID)
	require.Equal(t, "ext-c", entries[0].ExternalID)
	require.True(t, entries[0].FinishedAt.Equal(base.Add(2*time.Minute)))
	require.Equal(t, "b", entries[1].FlowID)

	t.Run("migrations are idempotent", func(t *testing.T) {
		again, err := OpenPostgres(ctx, PostgresConfig{URL: dsn})
		require.NoError(t, err)
		again.Close()
	})
}
