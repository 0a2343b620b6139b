package algo

import "time"

// TokenBucketState is the per-key state for the Token Bucket algorithm.
// Tokens is always clamped to [0, cfg.Capacity] after any transition.
type TokenBucketState struct {
	Tokens         float64
	LastRefillTime time.Time
}

// NewTokenBucketState returns a freshly-initialized, full bucket.
func NewTokenBucketState(cfg Config, now time.Time) TokenBucketState {
	return TokenBucketState{Tokens: float64(cfg.Capacity), LastRefillTime: now}
}

// TryConsumeTokenBucket refills up to capacity based on elapsed time, then
// admits iff enough tokens are available. Denied calls still advance
// LastRefillTime so refill accounting stays monotonic across bursts.
func TryConsumeTokenBucket(state TokenBucketState, required float64, now time.Time, cfg Config) (TokenBucketState, bool) {
	if required <= 0 {
		required = 1
	}
	elapsed := now.Sub(state.LastRefillTime)
	if elapsed < 0 {
		elapsed = 0
	}
	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	available := state.Tokens + elapsedMs*cfg.RefillRate
	if cap := float64(cfg.Capacity); available > cap {
		available = cap
	}

	if available >= required {
		return TokenBucketState{Tokens: available - required, LastRefillTime: now}, true
	}
	return TokenBucketState{Tokens: available, LastRefillTime: now}, false
}
