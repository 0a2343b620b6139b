package tiered

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/manojcchoudhary/ratelimitcore/algo"
	"github.com/manojcchoudhary/ratelimitcore/breaker"
	"github.com/manojcchoudhary/ratelimitcore/storage/distributed"
	"github.com/manojcchoudhary/ratelimitcore/storage/local"
)

func newTieredStorage(t *testing.T, defaultStrategy algo.FailStrategy) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l1 := distributed.New(client, nil)
	l2 := local.New(0)
	cb := breaker.New(breaker.Config{FailureThreshold: 0.5, Window: 10 * time.Second})

	return New(l1, l2, cb, defaultStrategy, nil), mr
}

func fixedCfg(limit int64, strategy algo.FailStrategy) algo.Config {
	cfg := algo.Config{Kind: algo.FixedWindow, Limit: limit, Window: time.Second, FailStrategy: strategy}
	_ = cfg.Normalize()
	return cfg
}

func TestTiered_PrefersL1WhenHealthy(t *testing.T) {
	s, _ := newTieredStorage(t, algo.FailOpen)
	ctx := context.Background()
	cfg := fixedCfg(2, algo.FailOpen)
	now := time.Unix(1700000000, 0)

	allowed := 0
	for i := 0; i < 3; i++ {
		ok, reason, err := s.TryAcquire(ctx, "k", cfg, now)
		require.NoError(t, err)
		require.Empty(t, reason, "healthy L1 path carries no degradation reason")
		if ok {
			allowed++
		}
	}
	require.Equal(t, 2, allowed)
}

func TestTiered_FailOpenServesFromL2WhenL1Down(t *testing.T) {
	s, mr := newTieredStorage(t, algo.FailOpen)
	ctx := context.Background()
	cfg := fixedCfg(2, algo.FailOpen)
	now := time.Unix(1700000000, 0)

	mr.Close()

	for i := 0; i < 5; i++ {
		_, _, _ = s.TryAcquire(ctx, "trip", cfg, now)
	}
	require.Equal(t, breaker.Open, s.cb.State())

	allowed := 0
	for i := 0; i < 3; i++ {
		ok, reason, err := s.TryAcquire(ctx, "k", cfg, now)
		require.NoError(t, err)
		if ok {
			allowed++
			require.Contains(t, reason, "local storage")
		}
	}
	require.Equal(t, 2, allowed, "L2 enforces the same limit once L1 is unavailable")
}

func TestTiered_FailClosedDeniesWhenL1Down(t *testing.T) {
	s, mr := newTieredStorage(t, algo.FailClosed)
	ctx := context.Background()
	cfg := fixedCfg(5, algo.FailClosed)
	now := time.Unix(1700000000, 0)

	mr.Close()

	for i := 0; i < 5; i++ {
		_, _, _ = s.TryAcquire(ctx, "trip", cfg, now)
	}
	require.Equal(t, breaker.Open, s.cb.State())

	ok, reason, err := s.TryAcquire(ctx, "k", cfg, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reason, "fail-closed")
}

func TestTiered_ResetIsBestEffortAcrossBothLayers(t *testing.T) {
	s, _ := newTieredStorage(t, algo.FailOpen)
	ctx := context.Background()
	cfg := fixedCfg(1, algo.FailOpen)
	now := time.Unix(1700000000, 0)

	_, _, err := s.TryAcquire(ctx, "k", cfg, now)
	require.NoError(t, err)

	s.Reset(ctx, "k")

	ok, _, err := s.TryAcquire(ctx, "k", cfg, now)
	require.NoError(t, err)
	require.True(t, ok, "reset clears state so a fresh acquire is allowed again")
}

func TestTiered_IsHealthyRequiresBothLayers(t *testing.T) {
	s, mr := newTieredStorage(t, algo.FailOpen)
	ctx := context.Background()
	require.True(t, s.IsHealthy(ctx))

	mr.Close()
	require.False(t, s.IsHealthy(ctx))
}
