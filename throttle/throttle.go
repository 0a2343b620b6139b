// Package throttle implements the adaptive throttler: a bounded delay
// computed between a soft and a hard usage threshold, composing with the
// engine to attach a delay to an otherwise-allowed decision.
package throttle

import (
	"fmt"

	"golang.org/x/time/rate"
)

// Strategy selects how delay scales between soft and hard.
type Strategy int

const (
	Linear Strategy = iota
	Exponential
)

func (s Strategy) String() string {
	switch s {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ConfigError reports an invalid throttler configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ratelimitcore: invalid throttle config field %q: %s", e.Field, e.Reason)
}

// Config holds the throttler's fixed parameters: 0 <= soft < hard, a
// maximum delay, and a strategy.
type Config struct {
	Soft       float64
	Hard       float64
	MaxDelayMs int64
	Strategy   Strategy
}

func (c Config) validate() error {
	if c.Soft < 0 {
		return &ConfigError{Field: "Soft", Reason: "must be >= 0"}
	}
	if c.Hard <= c.Soft {
		return &ConfigError{Field: "Hard", Reason: "must be greater than Soft"}
	}
	if c.MaxDelayMs < 0 {
		return &ConfigError{Field: "MaxDelayMs", Reason: "must be >= 0"}
	}
	return nil
}

// Throttler computes a bounded delay between a soft and a hard usage
// threshold. It also keeps a golang.org/x/time/rate.Limiter, seeded from
// Soft, that each at-or-below-soft evaluation draws from; its result does
// not affect the decision, which the soft-threshold comparison alone makes.
type Throttler struct {
	cfg  Config
	gate *rate.Limiter
}

// New constructs a Throttler. burst sizes the fast-path gate's burst
// allowance; 1 is a reasonable default for a per-call gate.
func New(cfg Config, burst int) (*Throttler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(cfg.Soft)
	if cfg.Soft <= 0 {
		limit = rate.Inf
	}
	return &Throttler{cfg: cfg, gate: rate.NewLimiter(limit, burst)}, nil
}

// Decision is the result of evaluating a usage level against the throttler.
type Decision struct {
	Allowed bool
	DelayMs int64
}

// Evaluate computes the delay for a usage level:
//
//	usage <= soft  -> 0ms, allow
//	usage >= hard  -> reject
//	otherwise      -> ratio = (usage-soft)/(hard-soft); delay = ratio*max
//	                  (Linear) or ratio^2*max (Exponential), clamped to max.
func (t *Throttler) Evaluate(usage float64) Decision {
	if usage <= t.cfg.Soft {
		_ = t.gate.Allow() // cheap fast-path accounting; decision is allow regardless
		return Decision{Allowed: true, DelayMs: 0}
	}
	if usage >= t.cfg.Hard {
		return Decision{Allowed: false, DelayMs: 0}
	}

	ratio := (usage - t.cfg.Soft) / (t.cfg.Hard - t.cfg.Soft)
	var factor float64
	switch t.cfg.Strategy {
	case Exponential:
		factor = ratio * ratio
	default:
		factor = ratio
	}

	delay := factor * float64(t.cfg.MaxDelayMs)
	if delay > float64(t.cfg.MaxDelayMs) {
		delay = float64(t.cfg.MaxDelayMs)
	}
	if delay < 0 {
		delay = 0
	}
	return Decision{Allowed: true, DelayMs: int64(delay)}
}
