package engine

import (
	"context"
	"time"

	"github.com/manojcchoudhary/ratelimitcore/algo"
	"github.com/manojcchoudhary/ratelimitcore/storage/distributed"
	"github.com/manojcchoudhary/ratelimitcore/storage/local"
)

// LocalOnlyStorage adapts storage/local.Storage to the engine's Storage
// interface, for a local-only (in-memory) storage topology.
type LocalOnlyStorage struct {
	s *local.Storage
}

func NewLocalOnlyStorage(s *local.Storage) *LocalOnlyStorage { return &LocalOnlyStorage{s: s} }

func (a *LocalOnlyStorage) TryAcquire(_ context.Context, key string, cfg algo.Config, now time.Time) (bool, string, error) {
	allowed, err := a.s.TryAcquire(key, cfg, now)
	return allowed, "", err
}

func (a *LocalOnlyStorage) GetState(_ context.Context, key string, cfg algo.Config, now time.Time) (int64, time.Time, bool) {
	st, err := a.s.GetState(key, cfg, now)
	if err != nil || !st.Found {
		return 0, time.Time{}, false
	}
	return st.Remaining, st.ResetTime, true
}

func (a *LocalOnlyStorage) Reset(_ context.Context, key string)   { _ = a.s.Reset(key) }
func (a *LocalOnlyStorage) IsHealthy(context.Context) bool        { return a.s.IsHealthy() }
func (a *LocalOnlyStorage) CurrentTime(context.Context) time.Time { return a.s.CurrentTime() }

// DistributedOnlyStorage adapts storage/distributed.Storage to the engine's
// Storage interface, for a distributed-only topology (no local fallback, no
// breaker -- a direct, uncomposed L1).
type DistributedOnlyStorage struct {
	s *distributed.Storage
}

func NewDistributedOnlyStorage(s *distributed.Storage) *DistributedOnlyStorage {
	return &DistributedOnlyStorage{s: s}
}

func (a *DistributedOnlyStorage) TryAcquire(ctx context.Context, key string, cfg algo.Config, now time.Time) (bool, string, error) {
	allowed, err := a.s.TryAcquire(ctx, key, cfg, now)
	return allowed, "", err
}

func (a *DistributedOnlyStorage) GetState(ctx context.Context, key string, cfg algo.Config, now time.Time) (int64, time.Time, bool) {
	st, err := a.s.GetState(ctx, key, cfg)
	if err != nil || !st.Found {
		return 0, time.Time{}, false
	}
	return st.Remaining, now.Add(cfg.Window), true
}

func (a *DistributedOnlyStorage) Reset(ctx context.Context, key string) { _ = a.s.Reset(ctx, key) }
func (a *DistributedOnlyStorage) IsHealthy(ctx context.Context) bool    { return a.s.IsHealthy(ctx) }
func (a *DistributedOnlyStorage) CurrentTime(ctx context.Context) time.Time {
	t, err := a.s.CurrentTime(ctx)
	if err != nil {
		return time.Now()
	}
	return t
}
