package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/storage"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests need docker")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func sample(id, asset string, entry time.Time) position.Position {
	return position.Position{
		ID:          id,
		Asset:       asset,
		EntryPrice:  0.002,
		Size:        250,
		CostBasis:   0.5,
		EntryTime:   entry,
		TargetPrice: 0.0025,
		StopPrice:   0.0017,
		MaxHold:     time.Hour,
		State:       position.StateOpen,
	}
}

func TestPositionStore_Lifecycle(t *testing.T) {
	store := NewPositionStore(setupRedis(t), "test")
	ctx := context.Background()
	t0 := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	a := sample("pos-a", "MintA", t0)
	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Save(ctx, sample("pos-b", "MintB", t0)))

	// resaving the same open position is an update
	a.CurrentPrice = 0.0021
	require.NoError(t, store.Save(ctx, a))

	assert.ErrorIs(t, store.Save(ctx, sample("pos-c", "MintA", t0)), storage.ErrDuplicateOpen)

	open, err := store.LoadOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	a.State = position.StateClosedLoss
	a.ExitReason = position.ReasonStopLoss
	a.ExitTime = t0.Add(30 * time.Minute)
	a.RealizedPnL = -0.08
	require.NoError(t, store.Save(ctx, a))

	open, err = store.LoadOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pos-b", open[0].ID)

	closed, err := store.ListClosed(ctx, t0)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, position.ReasonStopLoss, closed[0].ExitReason)
	assert.InDelta(t, -0.08, closed[0].RealizedPnL, 1e-12)

	// the asset is free again once closed
	require.NoError(t, store.Save(ctx, sample("pos-d", "MintA", t0.Add(time.Hour))))

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKeys(t *testing.T) {
	s := NewPositionStore(nil, "")
	assert.Equal(t, "sniper:position:abc", s.positionKey("abc"))
	assert.Equal(t, "sniper:open", s.openSetKey())
	assert.Equal(t, "sniper:open:Mint", s.openAssetKey("Mint"))
	assert.Equal(t, "sniper:closed", s.closedKey())
}
