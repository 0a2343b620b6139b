package local

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/manojcchoudhary/ratelimitcore/algo"
)

func fixedWindowCfg(limit int64) algo.Config {
	cfg := algo.Config{Kind: algo.FixedWindow, Limit: limit, Window: time.Second}
	_ = cfg.Normalize()
	return cfg
}

func TestLocal_ResetThenFreshKeySemantics(t *testing.T) {
	s := New(0)
	cfg := fixedWindowCfg(10)
	now := time.Unix(1700000000, 0)

	_, err := s.TryAcquire("k1", cfg, now)
	require.NoError(t, err)

	require.NoError(t, s.Reset("k1"))

	st, err := s.GetState("k1", cfg, now)
	require.NoError(t, err)
	require.False(t, st.Found)

	allowed, err := s.TryAcquire("k1", cfg, now)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLocal_ConcurrentAcquiresNoLostUpdates(t *testing.T) {
	s := New(0)
	cfg := fixedWindowCfg(100)
	now := time.Unix(1700000000, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryAcquire("shared-key", cfg, now)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 100, allowedCount, "no more than N allows within a single window, regardless of scheduling")
}

func TestLocal_DeniedCallsStillWriteBackState(t *testing.T) {
	s := New(0)
	cfg := algo.Config{Kind: algo.TokenBucket, Limit: 1, Capacity: 1, RefillRate: 0.0001, Window: time.Second}
	_ = cfg.Normalize()

	now := time.Unix(1700000000, 0)
	ok, err := s.TryAcquire("k", cfg, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryAcquire("k", cfg, now)
	require.NoError(t, err)
	require.False(t, ok)

	st, err := s.GetState("k", cfg, now)
	require.NoError(t, err)
	require.True(t, st.Found)
}

func TestLocal_EmptyKeyIsConfigError(t *testing.T) {
	s := New(0)
	cfg := fixedWindowCfg(1)
	_, err := s.TryAcquire("", cfg, time.Now())
	require.Error(t, err)
}

func TestLocal_IndependentKeysDoNotInterfere(t *testing.T) {
	s := New(0)
	cfg := fixedWindowCfg(1)
	now := time.Unix(1700000000, 0)

	ok1, _ := s.TryAcquire("a", cfg, now)
	ok2, _ := s.TryAcquire("b", cfg, now)
	require.True(t, ok1)
	require.True(t, ok2)
}
