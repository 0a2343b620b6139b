// Package tiered composes a distributed (L1) and local (L2) storage layer
// behind a circuit breaker. Under FailOpen, cluster-aggregate admission may
// exceed the global limit by up to (nodes-1)*N during a partition; this is
// a deliberate availability trade-off.
package tiered

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/manojcchoudhary/ratelimitcore/algo"
	"github.com/manojcchoudhary/ratelimitcore/breaker"
	"github.com/manojcchoudhary/ratelimitcore/storage/distributed"
	"github.com/manojcchoudhary/ratelimitcore/storage/local"
)

// Storage composes L1 (distributed, behind a breaker) and L2 (local).
type Storage struct {
	l1              *distributed.Storage
	l2              *local.Storage
	cb              *breaker.Breaker
	log             *zap.Logger
	defaultStrategy algo.FailStrategy
}

// New constructs a tiered storage layer. defaultStrategy is used when a
// limiter's own Config.FailStrategy holds the zero value (FailOpen). Because
// FailOpen is that zero value, a limiter cannot select FailOpen explicitly
// when defaultStrategy is FailClosed: it gets FailClosed.
func New(l1 *distributed.Storage, l2 *local.Storage, cb *breaker.Breaker, defaultStrategy algo.FailStrategy, log *zap.Logger) *Storage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage{l1: l1, l2: l2, cb: cb, defaultStrategy: defaultStrategy, log: log}
}

// TryAcquire attempts L1 through the breaker first; on L1 unavailability it
// applies the limiter's fail strategy.
func (s *Storage) TryAcquire(ctx context.Context, key string, cfg algo.Config, now time.Time) (bool, string, error) {
	allowed, err := breaker.Execute(s.cb, ctx, func(ctx context.Context) (bool, error) {
		return s.l1.TryAcquire(ctx, key, cfg, now)
	})
	if err == nil {
		return allowed, "", nil
	}

	s.log.Warn("L1 unavailable, applying fail strategy",
		zap.String("limiter", cfg.Name), zap.Error(err))

	strategy := cfg.FailStrategy
	if strategy == 0 && s.defaultStrategy != 0 {
		strategy = s.defaultStrategy
	}

	switch strategy {
	case algo.FailClosed:
		return false, "L1 unavailable: fail-closed", nil
	default: // FailOpen
		allowed, l2err := s.l2.TryAcquire(key, cfg, now)
		if l2err != nil {
			return true, "L1 and L2 unavailable: fail-open default allow", nil
		}
		reason := "degraded: served from local storage (L1 unavailable, fail-open)"
		if !allowed {
			reason = "denied by local storage (L1 unavailable, fail-open)"
		}
		return allowed, reason, nil
	}
}

// GetState prefers L1, falling through to L2 on failure.
func (s *Storage) GetState(ctx context.Context, key string, cfg algo.Config, now time.Time) (remaining int64, resetTime time.Time, found bool) {
	st, err := s.l1.GetState(ctx, key, cfg)
	if err == nil && st.Found {
		return st.Remaining, now.Add(cfg.Window), true
	}

	l2st, err := s.l2.GetState(key, cfg, now)
	if err == nil && l2st.Found {
		return l2st.Remaining, l2st.ResetTime, true
	}
	return 0, time.Time{}, false
}

// Reset applies best-effort to both layers; failures on either side are
// logged, never propagated.
func (s *Storage) Reset(ctx context.Context, key string) {
	if err := s.l1.Reset(ctx, key); err != nil {
		s.log.Warn("L1 reset failed", zap.Error(err))
	}
	if err := s.l2.Reset(key); err != nil {
		s.log.Warn("L2 reset failed", zap.Error(err))
	}
}

// IsHealthy requires both layers healthy.
func (s *Storage) IsHealthy(ctx context.Context) bool {
	return s.l1.IsHealthy(ctx) && s.l2.IsHealthy()
}

// CurrentTime prefers L1's authoritative clock via the breaker, falling back
// to L2's local clock.
func (s *Storage) CurrentTime(ctx context.Context) time.Time {
	t, err := breaker.Execute(s.cb, ctx, func(ctx context.Context) (time.Time, error) {
		return s.l1.CurrentTime(ctx)
	})
	if err == nil {
		return t
	}
	return s.l2.CurrentTime()
}
