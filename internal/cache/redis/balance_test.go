package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/hostledger/internal/ledger"
)

func mustOpen(t *testing.T) *BalanceCache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis cache tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, Options{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBalanceCacheRoundTrip(t *testing.T) {
	c := mustOpen(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	snap := ledger.BalanceSnapshot{
		AccountID:  a,
		Version:    ledger.BalanceVersion{Seq: 42, Legs: 3},
		ByCurrency: map[string]int64{"GBP": 7400},
		ComputedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, c.Set(ctx, snap))

	got, err := c.Get(ctx, []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Contains(t, got, a)
	assert.NotContains(t, got, b)
	assert.Equal(t, snap.Version, got[a].Version)
	assert.Equal(t, int64(7400), got[a].ByCurrency["GBP"])

	require.NoError(t, c.Delete(ctx, a))
	got, err = c.Get(ctx, []uuid.UUID{a})
	require.NoError(t, err)
	assert.Empty(t, got)
}
