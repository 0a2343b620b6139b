package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/manojcchoudhary/ratelimitcore/algo"
)

func newTestStorage(t *testing.T) (*Storage, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, nil), client
}

func fixedCfg(limit int64) algo.Config {
	cfg := algo.Config{Kind: algo.FixedWindow, Limit: limit, Window: time.Second, TTL: 10 * time.Second}
	_ = cfg.Normalize()
	return cfg
}

func TestDistributed_FixedWindow_ExactlyNThenDeny(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	cfg := fixedCfg(3)
	now := time.Unix(1700000000, 0)

	allowed := 0
	for i := 0; i < 4; i++ {
		ok, err := s.TryAcquire(ctx, "k1", cfg, now)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	require.Equal(t, 3, allowed)
}

func TestDistributed_TokenBucketRefills(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	cfg := algo.Config{Kind: algo.TokenBucket, Limit: 10, Capacity: 10, RefillRate: 0.01, Window: time.Second, TTL: 10 * time.Second}
	require.NoError(t, cfg.Normalize())

	base := time.Unix(1700000000, 0)
	for i := 0; i < 10; i++ {
		ok, err := s.TryAcquire(ctx, "tb", cfg, base)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := s.TryAcquire(ctx, "tb", cfg, base)
	require.NoError(t, err)
	require.False(t, ok)

	later := base.Add(200 * time.Millisecond)
	ok, err = s.TryAcquire(ctx, "tb", cfg, later)
	require.NoError(t, err)
	require.True(t, ok, "2 tokens refilled after 200ms at 10/s")
}

func TestDistributed_SlidingWindowDeniesOverLimit(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	cfg := algo.Config{Kind: algo.SlidingWindow, Limit: 5, Window: 60 * time.Second, TTL: 120 * time.Second}
	require.NoError(t, cfg.Normalize())

	now := time.Unix(1700000000, 0)
	allowed := 0
	for i := 0; i < 6; i++ {
		ok, err := s.TryAcquire(ctx, "sw", cfg, now)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	require.Equal(t, 5, allowed)
}

func TestDistributed_ScriptReloadsOnNoScript(t *testing.T) {
	s, client := newTestStorage(t)
	ctx := context.Background()
	cfg := fixedCfg(10)
	now := time.Unix(1700000000, 0)

	_, err := s.TryAcquire(ctx, "k", cfg, now)
	require.NoError(t, err)
	require.Equal(t, int64(0), s.ReloadCount())

	require.NoError(t, client.ScriptFlush(ctx).Err())

	_, err = s.TryAcquire(ctx, "k", cfg, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), s.ReloadCount(), "exactly one reload after a single eviction")
}

func TestDistributed_ResetDeletesKey(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	cfg := fixedCfg(1)
	now := time.Unix(1700000000, 0)

	_, err := s.TryAcquire(ctx, "k", cfg, now)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx, "k"))

	st, err := s.GetState(ctx, "k", cfg)
	require.NoError(t, err)
	require.False(t, st.Found)
}

func TestDistributed_EmptyKeyIsConfigError(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.TryAcquire(context.Background(), "", fixedCfg(1), time.Now())
	require.Error(t, err)
	var cerr *algo.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestDistributed_CurrentTimeUsesBackendClock(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	t1, err := s.CurrentTime(ctx)
	require.NoError(t, err)
	require.False(t, t1.IsZero())
}
