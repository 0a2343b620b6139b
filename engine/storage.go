package engine

import (
	"context"
	"time"

	"github.com/manojcchoudhary/ratelimitcore/algo"
)

// Storage is the surface the engine drives: acquire, inspect, reset, health,
// and clock, independent of whichever storage topology backs it.
// storage/tiered.Storage satisfies this directly; LocalOnlyStorage and
// DistributedOnlyStorage below adapt the single-tier backends to the same
// shape so a caller can select a local-only, distributed-only, or tiered
// topology without changing engine code.
type Storage interface {
	TryAcquire(ctx context.Context, key string, cfg algo.Config, now time.Time) (allowed bool, reason string, err error)
	GetState(ctx context.Context, key string, cfg algo.Config, now time.Time) (remaining int64, resetTime time.Time, found bool)
	Reset(ctx context.Context, key string)
	IsHealthy(ctx context.Context) bool
	CurrentTime(ctx context.Context) time.Time
}
