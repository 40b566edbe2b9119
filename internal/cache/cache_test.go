package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// newTestCache connects to a local Redis instance for integration
// testing. Skipped when one isn't reachable.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("WHALECOPY_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := Open(addr, "", 15)
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSnapshotCache_FirstObservationIsUncached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, found, err := c.GetSnapshot(ctx, 999001)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	snap := domain.PositionSnapshot{
		WhaleID:    999002,
		CapturedAt: time.Now().Truncate(time.Second),
		Positions: []domain.PositionSample{
			{Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Side: domain.SideLong, Quantity: decimal.NewFromInt(1)},
		},
	}
	require.NoError(t, c.PutSnapshot(ctx, snap, time.Minute))

	got, found, err := c.GetSnapshot(ctx, 999002)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.WhaleID, got.WhaleID)
	assert.Len(t, got.Positions, 1)
	assert.Equal(t, "BTCUSDT", got.Positions[0].Symbol)
}

func TestIdempotency_SecondAcquireLosesUntilReleased(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	defer c.Release(ctx, "process_signal", 999003, "")

	first, err := c.Acquire(ctx, "process_signal", 999003, "", time.Minute)
	require.NoError(t, err)
	assert.True(t, first.Acquired)

	second, err := c.Acquire(ctx, "process_signal", 999003, "", time.Minute)
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.False(t, second.AlreadyCompleted)
}

func TestIdempotency_CompletedIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	defer c.Release(ctx, "process_signal", 999004, "")

	res, err := c.Acquire(ctx, "process_signal", 999004, "", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	require.NoError(t, c.MarkCompleted(ctx, "process_signal", 999004, "", time.Minute))

	again, err := c.Acquire(ctx, "process_signal", 999004, "", time.Minute)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
}
