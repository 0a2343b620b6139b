// Package distributed implements the distributed (L1) storage layer:
// server-side atomic script execution against Redis, with a client-side
// content-hash script cache, automatic reload on NOSCRIPT, and a bounded
// local cache of the back-end's authoritative clock. Hash versioning is
// tracked explicitly rather than delegating to go-redis's built-in
// Script.Run NOSCRIPT retry, so the reload counter stays observable.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/manojcchoudhary/ratelimitcore/algo"
)

// BackendError wraps any Redis-side failure so a caller composing this
// layer can distinguish transient unavailability or a malformed response
// from a configuration error.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("ratelimitcore: backend %s: %v", e.Op, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

const timeCacheWindow = 100 * time.Millisecond

type cachedTime struct {
	observedAt  time.Time // monotonic local clock when the back-end time was fetched
	backendTime time.Time
}

// Storage is the distributed (L1) storage layer.
type Storage struct {
	client *redis.Client
	log    *zap.Logger

	mu      sync.RWMutex
	hashes  map[ScriptName]string // content hash currently believed resident
	reloads int64                 // observable count of NOSCRIPT reload-and-retry cycles

	timeMu sync.Mutex
	tcache cachedTime
}

// New constructs a distributed storage layer bound to the given Redis
// client. Scripts are loaded lazily on first use.
func New(client *redis.Client, log *zap.Logger) *Storage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage{client: client, log: log, hashes: make(map[ScriptName]string)}
}

// ReloadCount returns how many times a script was reloaded after the
// back-end reported it unknown.
func (s *Storage) ReloadCount() int64 { return atomic.LoadInt64(&s.reloads) }

func (s *Storage) ensureLoaded(ctx context.Context, name ScriptName) (string, error) {
	s.mu.RLock()
	hash, ok := s.hashes[name]
	s.mu.RUnlock()
	if ok {
		return hash, nil
	}
	return s.load(ctx, name)
}

func (s *Storage) load(ctx context.Context, name ScriptName) (string, error) {
	src, err := lookupScript(name)
	if err != nil {
		return "", err
	}

	hash, err := s.client.ScriptLoad(ctx, src).Result()
	if err != nil {
		return "", &BackendError{Op: "script_load", Err: err}
	}

	s.mu.Lock()
	s.hashes[name] = hash
	s.mu.Unlock()
	return hash, nil
}

func isNoScript(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOSCRIPT")
}

// runScript executes a whitelisted script by hash, reloading once and
// retrying if the back-end reports NOSCRIPT.
func (s *Storage) runScript(ctx context.Context, name ScriptName, keys []string, args []interface{}) ([]interface{}, error) {
	hash, err := s.ensureLoaded(ctx, name)
	if err != nil {
		return nil, err
	}

	result, err := s.client.EvalSha(ctx, hash, keys, args...).Result()
	if isNoScript(err) {
		atomic.AddInt64(&s.reloads, 1)
		s.log.Warn("script evicted from backend, reloading", zap.String("script", string(name)))

		s.mu.Lock()
		delete(s.hashes, name)
		s.mu.Unlock()

		hash, err = s.load(ctx, name)
		if err != nil {
			return nil, err
		}
		result, err = s.client.EvalSha(ctx, hash, keys, args...).Result()
	}
	if err != nil {
		return nil, &BackendError{Op: "eval", Err: err}
	}

	out, ok := result.([]interface{})
	if !ok || len(out) < 2 {
		return nil, &BackendError{Op: "eval", Err: errors.New("malformed script response: expected [allowed, remaining]")}
	}
	return out, nil
}

func parseResult(out []interface{}) (allowed bool, remaining int64, err error) {
	allowedRaw, ok := out[0].(int64)
	if !ok {
		return false, 0, &BackendError{Op: "eval", Err: errors.New("malformed allowed field")}
	}
	remainingRaw, ok := out[1].(int64)
	if !ok {
		return false, 0, &BackendError{Op: "eval", Err: errors.New("malformed remaining field")}
	}
	return allowedRaw == 1, remainingRaw, nil
}

// TryAcquire dispatches each algorithm kind to exactly one whitelisted
// script, running it atomically on the back-end.
func (s *Storage) TryAcquire(ctx context.Context, key string, cfg algo.Config, now time.Time) (bool, error) {
	if key == "" {
		return false, &algo.ConfigError{Field: "key", Reason: "must not be empty"}
	}
	if now.IsZero() || now.Unix() <= 0 {
		s.log.Warn("TryAcquire called with non-positive clock, substituting local time",
			zap.String("limiter", cfg.Name), zap.Time("now", now))
		now = time.Now()
	}

	nowMs := now.UnixMilli()
	ttlMs := cfg.TTL.Milliseconds()

	var (
		name ScriptName
		args []interface{}
	)
	switch cfg.Kind {
	case algo.TokenBucket:
		name = ScriptTokenBucket
		args = []interface{}{cfg.Capacity, cfg.RefillRate, 1, nowMs, ttlMs}
	case algo.SlidingWindow:
		name = ScriptSlidingWindow
		args = []interface{}{cfg.Limit, cfg.Window.Milliseconds(), nowMs, ttlMs}
	case algo.FixedWindow:
		name = ScriptFixedWindow
		args = []interface{}{cfg.Limit, cfg.Window.Milliseconds(), nowMs, ttlMs}
	default:
		return false, &algo.ConfigError{Field: "Kind", Reason: "unknown algorithm kind"}
	}

	out, err := s.runScript(ctx, name, []string{key}, args)
	if err != nil {
		return false, err
	}
	allowed, _, err := parseResult(out)
	return allowed, err
}

// State mirrors local.State for the distributed layer's GetState.
type State struct {
	Remaining int64
	Found     bool
}

// GetState does not run a script: it reads the key's stored hash fields
// directly (HGETALL) and derives remaining from them, without consuming
// anything.
func (s *Storage) GetState(ctx context.Context, key string, cfg algo.Config) (State, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return State{}, &BackendError{Op: "hgetall", Err: err}
	}
	if len(vals) == 0 {
		return State{}, nil
	}

	switch cfg.Kind {
	case algo.TokenBucket:
		tokens := vals["tokens"]
		if tokens == "" {
			return State{}, nil
		}
		var t float64
		fmt.Sscanf(tokens, "%f", &t)
		return State{Remaining: int64(t), Found: true}, nil
	case algo.SlidingWindow:
		cur := vals["cur_count"]
		if cur == "" {
			return State{}, nil
		}
		var c int64
		fmt.Sscanf(cur, "%d", &c)
		remaining := cfg.Limit - c
		if remaining < 0 {
			remaining = 0
		}
		return State{Remaining: remaining, Found: true}, nil
	case algo.FixedWindow:
		cnt := vals["count"]
		if cnt == "" {
			return State{}, nil
		}
		var c int64
		fmt.Sscanf(cnt, "%d", &c)
		remaining := cfg.Limit - c
		if remaining < 0 {
			remaining = 0
		}
		return State{Remaining: remaining, Found: true}, nil
	}
	return State{}, nil
}

// Reset deletes a key's back-end state.
func (s *Storage) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &BackendError{Op: "del", Err: err}
	}
	return nil
}

// IsHealthy pings the back-end.
func (s *Storage) IsHealthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// CurrentTime returns the back-end's authoritative wall clock, extrapolating
// from a bounded local cache within timeCacheWindow to avoid turning the
// TIME call into a DoS amplifier.
func (s *Storage) CurrentTime(ctx context.Context) (time.Time, error) {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()

	if !s.tcache.observedAt.IsZero() && time.Since(s.tcache.observedAt) < timeCacheWindow {
		elapsed := time.Since(s.tcache.observedAt)
		return s.tcache.backendTime.Add(elapsed), nil
	}

	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, &BackendError{Op: "time", Err: err}
	}

	s.tcache = cachedTime{observedAt: time.Now(), backendTime: t}
	return t, nil
}
