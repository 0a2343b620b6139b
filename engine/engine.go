// Package engine orchestrates the resolver, storage, throttler, and audit
// pipeline into the six core rate-limiting operations: resolve_key,
// try_acquire, get_state, reset, is_healthy, and current_time.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manojcchoudhary/ratelimitcore/algo"
	"github.com/manojcchoudhary/ratelimitcore/audit"
	"github.com/manojcchoudhary/ratelimitcore/mask"
	"github.com/manojcchoudhary/ratelimitcore/resolver"
	"github.com/manojcchoudhary/ratelimitcore/throttle"
)

const fallbackKey = "global-anonymous"

// ProblemDetailConfig governs whether and how denied decisions carry a
// structured problem-detail payload.
type ProblemDetailConfig struct {
	Enabled           bool
	TypeURI           string
	IncludeExtensions bool
}

// Engine is stateless apart from references to its collaborators and is
// safe to share across goroutines.
type Engine struct {
	resolver  *resolver.Resolver
	storage   Storage
	masker    *mask.Masker
	auditor   *audit.Pipeline
	throttler *throttle.Throttler
	pd        ProblemDetailConfig
	log       *zap.Logger

	metrics *Metrics
}

// Option configures optional collaborators at construction.
type Option func(*Engine)

func WithThrottler(t *throttle.Throttler) Option {
	return func(e *Engine) { e.throttler = t }
}

func WithProblemDetail(cfg ProblemDetailConfig) Option {
	return func(e *Engine) { e.pd = cfg }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine. resolver, storage, masker, and auditor are
// required; log defaults to a no-op logger.
func New(res *resolver.Resolver, storage Storage, masker *mask.Masker, auditor *audit.Pipeline, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{resolver: res, storage: storage, masker: masker, auditor: auditor, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveKey resolves a request context to a bucket key.
func (e *Engine) ResolveKey(ctx resolver.Context) string {
	key, err := e.resolver.ResolveKey(ctx)
	if err != nil {
		e.log.Warn("key resolution failed, using fallback key", zap.Error(err))
		return fallbackKey
	}
	return key
}

// TryAcquire resolves a key, asks storage for a decision, fills in
// remaining/reset-time, and records metrics and audit events.
func (e *Engine) TryAcquire(ctx context.Context, reqCtx resolver.Context, cfg algo.Config) Decision {
	start := time.Now()
	key := e.ResolveKey(reqCtx)
	maskedKey := e.masker.Mask(key)

	now := e.storage.CurrentTime(ctx)
	if now.IsZero() {
		now = time.Now()
	}

	allowed, reason, err := e.storage.TryAcquire(ctx, key, cfg, now)
	if err != nil {
		var cfgErr *algo.ConfigError
		if errors.As(err, &cfgErr) {
			// configuration errors bypass the fail strategy: the result is
			// a deny whose Reason carries the error text unchanged.
			e.recordLatency(cfg.Name, time.Since(start))
			return Decision{Allowed: false, Limiter: cfg.Name, Reason: err.Error()}
		}

		e.auditor.Enqueue(audit.Event{Kind: audit.SystemFailure, Limiter: cfg.Name, MaskedKey: maskedKey, Reason: err.Error(), At: now})
		allowed = cfg.FailStrategy == algo.FailOpen
		reason = "storage exception: applied fail strategy"
		e.log.Warn("storage exception during try_acquire", zap.String("limiter", cfg.Name), zap.Error(err))
	}

	remaining, resetTime, found := e.storage.GetState(ctx, key, cfg, now)
	if !found {
		remaining = cfg.Limit - 1
		if !allowed {
			remaining = 0
		}
		resetTime = now.Add(cfg.Window)
	}

	decision := Decision{
		Allowed:   allowed,
		Limiter:   cfg.Name,
		Limit:     cfg.Limit,
		Remaining: remaining,
		ResetTime: resetTime,
		Reason:    reason,
	}

	if !allowed {
		e.auditor.Enqueue(audit.Event{Kind: audit.Enforcement, Limiter: cfg.Name, MaskedKey: maskedKey, Reason: reason, Allowed: false, At: now})
		if e.pd.Enabled {
			decision.ProblemDetail = e.buildProblemDetail(decision, now)
		}
	}

	e.recordLatency(cfg.Name, time.Since(start))
	e.recordDecision(cfg.Name, allowed)
	return decision
}

// Throttle attaches a delay to an already-allowed decision based on a usage
// signal. Callers combine this with TryAcquire when adaptive throttling is
// enabled for a limiter.
func (e *Engine) Throttle(d Decision, usage float64) Decision {
	if e.throttler == nil || !d.Allowed {
		return d
	}
	result := e.throttler.Evaluate(usage)
	if !result.Allowed {
		d.Allowed = false
		d.Reason = "adaptive throttle: usage at or above hard threshold"
		return d
	}
	d.DelayMs = result.DelayMs
	return d
}

// GetState returns the remaining count and reset time for key.
func (e *Engine) GetState(ctx context.Context, key string, cfg algo.Config) (remaining int64, resetTime time.Time, found bool) {
	now := e.storage.CurrentTime(ctx)
	return e.storage.GetState(ctx, key, cfg, now)
}

// Reset clears any stored state for key.
func (e *Engine) Reset(ctx context.Context, key string) {
	e.storage.Reset(ctx, key)
}

// IsHealthy reports whether the underlying storage is reachable.
func (e *Engine) IsHealthy(ctx context.Context) bool {
	return e.storage.IsHealthy(ctx)
}

// CurrentTime returns the storage layer's authoritative clock, in
// milliseconds since the Unix epoch.
func (e *Engine) CurrentTime(ctx context.Context) int64 {
	return e.storage.CurrentTime(ctx).UnixMilli()
}

func (e *Engine) buildProblemDetail(d Decision, now time.Time) *ProblemDetail {
	typeURI := e.pd.TypeURI
	if typeURI == "" {
		typeURI = "about:blank"
	}
	pd := &ProblemDetail{
		Type:     typeURI,
		Title:    "Rate limit exceeded",
		Status:   429,
		Detail:   "The request was rejected because the rate limit for this resource has been exceeded.",
		Instance: uuid.NewString(),
	}
	if e.pd.IncludeExtensions {
		pd.RetryAfter = d.RetryAfterSeconds(now)
		pd.Limit = d.Limit
		pd.Remaining = d.Remaining
		pd.Reset = d.ResetTime.Unix()
		pd.Limiter = d.Limiter
		pd.HasExtensions = true
	}
	return pd
}

func (e *Engine) recordLatency(limiter string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveLatency(limiter, d)
	}
}

func (e *Engine) recordDecision(limiter string, allowed bool) {
	if e.metrics != nil {
		e.metrics.RecordDecision(limiter, allowed)
	}
}
