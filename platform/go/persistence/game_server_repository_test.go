package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newRegistryPool(t *testing.T) *GameServerStore {
	t.Helper()

	if os.Getenv("TESTCONTAINERS") != "1" {
		t.Skip("TESTCONTAINERS=1 not set; skipping registry integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("worlds"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		ClosePool(pool)
	})

	require.NoError(t, BootstrapRegistry(ctx, pool))
	// second run must be a no-op
	require.NoError(t, BootstrapRegistry(ctx, pool))

	store, err := NewGameServerStore(pool)
	require.NoError(t, err)
	return store
}

func sampleRecord(worldID string) GameServerRecord {
	return GameServerRecord{
		WorldID:            worldID,
		Name:               "Server " + worldID,
		Speed:              50000,
		GameWorldURL:       "http://" + worldID + ".example.com/",
		StartTime:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RoundLength:        7,
		ConfigFileLocation: "/srv/worlds/" + worldID + "/include/connection.yaml",
	}
}

func TestGameServerStoreLifecycle(t *testing.T) {
	store := newRegistryPool(t)
	ctx := context.Background()

	first, err := store.InsertLive(ctx, sampleRecord("s9"))
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.Equal(t, int64(1), first.RowVersion)
	require.False(t, first.Archived)

	live, err := store.GetLiveBySlug(ctx, "s9")
	require.NoError(t, err)
	require.Equal(t, first.ID, live.ID)
	require.Equal(t, 7, live.RoundLength)

	// re-provisioning retires the previous live row
	second, err := store.InsertLive(ctx, sampleRecord("s9"))
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	retired, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, retired.Archived)
	require.True(t, retired.Finished)

	live, err = store.GetLiveBySlug(ctx, "s9")
	require.NoError(t, err)
	require.Equal(t, second.ID, live.ID)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, second.ID, records[0].ID)

	// a rolled back run hands the slot back to the row it replaced
	require.ErrorIs(t, store.Reinstate(ctx, first.ID, false), ErrLiveWorldExists)
	require.NoError(t, store.Retire(ctx, second.ID))
	require.NoError(t, store.Reinstate(ctx, first.ID, false))
	live, err = store.GetLiveBySlug(ctx, "s9")
	require.NoError(t, err)
	require.Equal(t, first.ID, live.ID)
	require.False(t, live.Finished)
	require.ErrorIs(t, store.Reinstate(ctx, 999999, false), ErrNotFound)
}

func TestGameServerStoreFlags(t *testing.T) {
	store := newRegistryPool(t)
	ctx := context.Background()

	rec, err := store.InsertLive(ctx, sampleRecord("flags"))
	require.NoError(t, err)

	toggled, err := store.ToggleFlag(ctx, rec.ID, FlagHidden)
	require.NoError(t, err)
	require.True(t, toggled.Hidden)

	toggled, err = store.ToggleFlag(ctx, rec.ID, FlagHidden)
	require.NoError(t, err)
	require.False(t, toggled.Hidden)

	version := toggled.RowVersion
	set, err := store.SetFlag(ctx, rec.ID, FlagRegisterClosed, true, &version)
	require.NoError(t, err)
	require.True(t, set.RegisterClosed)

	_, err = store.SetFlag(ctx, rec.ID, FlagRegisterClosed, false, &version)
	require.ErrorIs(t, err, ErrVersionConflict)

	missing := int64(1)
	_, err = store.SetFlag(ctx, 999999, FlagFinished, true, &missing)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.ToggleFlag(ctx, rec.ID, Flag("archived"))
	require.Error(t, err)

	start := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	updated, err := store.UpdateTimes(ctx, rec.ID, start, 14)
	require.NoError(t, err)
	require.True(t, start.Equal(updated.StartTime))
	require.Equal(t, 14, updated.RoundLength)

	require.NoError(t, store.Retire(ctx, rec.ID))
	_, err = store.GetLiveBySlug(ctx, "flags")
	require.ErrorIs(t, err, ErrNotFound)
}
