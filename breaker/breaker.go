// Package breaker implements a jittered three-state circuit breaker:
// Closed -> Open on failure rate, Open -> HalfOpen after a jittered timeout,
// HalfOpen -> Closed/Open on probe outcome.
package breaker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// State is the circuit breaker's current tagged variant.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected without invoking the
// underlying operation, either because the breaker is Open and the jittered
// timeout has not elapsed, or because HalfOpen's probe cap is saturated.
var ErrOpen = errors.New("ratelimitcore: circuit breaker rejected call (open)")

// Config holds the breaker's fixed construction-time parameters.
type Config struct {
	FailureThreshold  float64       // F, default 0.5
	Window            time.Duration // rolling window for the failure rate
	BaseRecoveryDelay time.Duration // T_base, default 30s
	Jitter            float64       // J in [0,1]; a negative value selects 0.3, zero disables jitter
	MaxProbes         int32         // P, default 1
	Now               func() time.Time
	Rand              func() float64 // uniform(0,1); overridable for deterministic tests
}

func (c *Config) withDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.5
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.BaseRecoveryDelay <= 0 {
		c.BaseRecoveryDelay = 30 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0.3
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
}

// second-resolution ring buffer of failure/success counts: bounded memory,
// no heap churn on the hot path.
type window struct {
	buckets [64]struct{ failures, successes int64 }
	size    int
	head    int
	headSec int64
	hasHead bool
}

func newWindow(d time.Duration) window {
	size := int(d.Seconds())
	if size < 1 {
		size = 1
	}
	if size > 64 {
		size = 64
	}
	return window{size: size}
}

func (w *window) advance(nowSec int64) {
	if !w.hasHead {
		w.headSec = nowSec
		w.hasHead = true
		return
	}
	gap := nowSec - w.headSec
	if gap <= 0 {
		return
	}
	clear := int(gap)
	if clear > w.size {
		clear = w.size
	}
	for i := 0; i < clear; i++ {
		idx := (w.head + 1 + i) % w.size
		w.buckets[idx] = struct{ failures, successes int64 }{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headSec = nowSec
}

func (w *window) record(now time.Time, failed bool) {
	w.advance(now.Unix())
	if failed {
		w.buckets[w.head].failures++
	} else {
		w.buckets[w.head].successes++
	}
}

func (w *window) rate(now time.Time) (failureRate float64, total int64) {
	w.advance(now.Unix())
	var f, s int64
	for i := 0; i < w.size; i++ {
		f += w.buckets[i].failures
		s += w.buckets[i].successes
	}
	total = f + s
	if total == 0 {
		return 0, 0
	}
	return float64(f) / float64(total), total
}

func (w *window) reset() {
	*w = window{size: w.size}
}

// Breaker is a single named circuit breaker instance. All counter mutation
// is guarded by mu except the probe count, which uses a CAS loop so
// HalfOpen admission never exceeds MaxProbes even under concurrent callers.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	win             window
	lastFailureTime time.Time
	openedAt        time.Time

	activeProbes int32
}

// New constructs a Closed breaker with the given config.
func New(cfg Config) *Breaker {
	cfg.withDefaults()
	return &Breaker{
		cfg:   cfg,
		state: Closed,
		win:   newWindow(cfg.Window),
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op through the breaker. If the breaker is Open and the
// jittered recovery timeout has not elapsed, or if HalfOpen's probe cap is
// saturated, op is never invoked and ErrOpen is returned.
func Execute[T any](b *Breaker, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var zero T

	admitted, isProbe := b.admit()
	if !admitted {
		return zero, ErrOpen
	}

	result, err := op(ctx)

	if isProbe {
		atomic.AddInt32(&b.activeProbes, -1)
	}
	b.complete(err == nil)
	return result, err
}

// admit decides whether a call may proceed and, if so, whether it counts as
// a HalfOpen probe.
func (b *Breaker) admit() (admitted bool, isProbe bool) {
	now := b.cfg.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false
	case Open:
		delay := b.jitteredDelay()
		if now.Sub(b.openedAt) < delay {
			return false, false
		}
		b.state = HalfOpen
		fallthrough
	case HalfOpen:
		for {
			cur := atomic.LoadInt32(&b.activeProbes)
			if cur >= b.cfg.MaxProbes {
				return false, false
			}
			if atomic.CompareAndSwapInt32(&b.activeProbes, cur, cur+1) {
				return true, true
			}
		}
	default:
		return true, false
	}
}

func (b *Breaker) jitteredDelay() time.Duration {
	j := b.cfg.Jitter
	u := 2*b.cfg.Rand() - 1 // uniform(-1,1)
	factor := 1 + j*u
	if factor < 0 {
		factor = 0
	}
	return time.Duration(float64(b.cfg.BaseRecoveryDelay) * factor)
}

// complete records a call's outcome and applies state transitions.
func (b *Breaker) complete(success bool) {
	now := b.cfg.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		if success {
			b.toClosedLocked()
		} else {
			b.toOpenLocked(now)
		}
		return
	case Open:
		// A call raced the transition (e.g. non-probe rejected before the
		// state flip); ignore its outcome.
		return
	}

	b.win.record(now, !success)
	if rate, total := b.win.rate(now); total > 0 && rate >= b.cfg.FailureThreshold {
		b.toOpenLocked(now)
	}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.state = Open
	b.lastFailureTime = now
	b.openedAt = now
	atomic.StoreInt32(&b.activeProbes, 0)
}

func (b *Breaker) toClosedLocked() {
	b.state = Closed
	b.win.reset()
	atomic.StoreInt32(&b.activeProbes, 0)
}

// LastFailureTime returns the time of the breaker's most recent transition
// to Open.
func (b *Breaker) LastFailureTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailureTime
}

// ActiveProbes returns the current number of in-flight HalfOpen probes.
func (b *Breaker) ActiveProbes() int32 {
	return atomic.LoadInt32(&b.activeProbes)
}
