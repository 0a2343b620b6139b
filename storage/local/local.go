// Package local implements the per-node storage layer: a sharded,
// concurrent key->state map with TTL eviction and a soft size cap.
package local

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manojcchoudhary/ratelimitcore/algo"
)

const numShards = 256

type entry struct {
	kind       algo.Kind
	tokenState algo.TokenBucketState
	slideState algo.SlidingWindowState
	fixedState algo.FixedWindowState
	expiresAt  time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Storage is the local (L2) storage layer. One instance typically serves one
// process/node.
type Storage struct {
	shards  [numShards]*shard
	maxSize int
	size    int64 // atomic approximate total entry count across shards
}

// New creates a local storage layer. maxSize <= 0 means unbounded. maxSize
// is a soft cap: once it is reached, inserting a new key first evicts the
// expired entries of that key's shard, and the new entry is stored even if
// the total stays at or above maxSize. Live entries are never evicted to
// make room.
func New(maxSize int) *Storage {
	s := &Storage{maxSize: maxSize}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Storage) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

// TryAcquire serializes the read-modify-write of a single key's state
// against every other operation on that key via the owning shard's mutex.
// Denied calls still write back refreshed refill/window-start fields so
// refill credit is never lost across bursts.
func (s *Storage) TryAcquire(key string, cfg algo.Config, now time.Time) (bool, error) {
	if key == "" {
		return false, &algo.ConfigError{Field: "key", Reason: "must not be empty"}
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	expired := ok && e.expiresAt.Before(now)
	if expired {
		ok = false
		delete(sh.entries, key)
		atomic.AddInt64(&s.size, -1)
	}
	if !ok {
		if s.maxSize > 0 && atomic.LoadInt64(&s.size) >= int64(s.maxSize) {
			s.evictExpiredLocked(sh, now)
		}
		e = &entry{kind: cfg.Kind}
		switch cfg.Kind {
		case algo.TokenBucket:
			e.tokenState = algo.NewTokenBucketState(cfg, now)
		case algo.SlidingWindow:
			e.slideState = algo.NewSlidingWindowState(cfg, now)
		case algo.FixedWindow:
			e.fixedState = algo.NewFixedWindowState(cfg, now)
		}
		sh.entries[key] = e
		atomic.AddInt64(&s.size, 1)
	}

	var allowed bool
	switch cfg.Kind {
	case algo.TokenBucket:
		e.tokenState, allowed = algo.TryConsumeTokenBucket(e.tokenState, 1, now, cfg)
	case algo.SlidingWindow:
		e.slideState, allowed = algo.TryConsumeSlidingWindow(e.slideState, now, cfg)
	case algo.FixedWindow:
		e.fixedState, allowed = algo.TryConsumeFixedWindow(e.fixedState, now, cfg)
	}
	e.expiresAt = now.Add(cfg.TTL)

	return allowed, nil
}

// State is a best-effort snapshot of a key's stored state, sufficient for
// the engine to derive remaining/reset values.
type State struct {
	Kind      algo.Kind
	Remaining int64
	ResetTime time.Time
	Found     bool
}

// GetState dispatches on the key's recorded algorithm kind and returns a
// best-effort remaining/reset snapshot.
func (s *Storage) GetState(key string, cfg algo.Config, now time.Time) (State, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || e.expiresAt.Before(now) {
		return State{}, nil
	}

	switch e.kind {
	case algo.TokenBucket:
		remaining := int64(e.tokenState.Tokens)
		return State{Kind: e.kind, Remaining: remaining, ResetTime: now.Add(cfg.Window), Found: true}, nil
	case algo.SlidingWindow:
		remaining := cfg.Limit - e.slideState.Current.Count
		if remaining < 0 {
			remaining = 0
		}
		return State{Kind: e.kind, Remaining: remaining, ResetTime: e.slideState.Current.Start.Add(cfg.Window), Found: true}, nil
	case algo.FixedWindow:
		remaining := cfg.Limit - e.fixedState.Count
		if remaining < 0 {
			remaining = 0
		}
		return State{Kind: e.kind, Remaining: remaining, ResetTime: e.fixedState.ResetTime(cfg), Found: true}, nil
	}
	return State{}, nil
}

// Reset deletes a key's stored state.
func (s *Storage) Reset(key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[key]; ok {
		delete(sh.entries, key)
		atomic.AddInt64(&s.size, -1)
	}
	return nil
}

// IsHealthy always reports true: the local layer has no external
// dependency that can fail.
func (s *Storage) IsHealthy() bool { return true }

// CurrentTime returns the node's local wall clock.
func (s *Storage) CurrentTime() time.Time { return time.Now() }

// evictExpiredLocked removes already-expired entries from the caller's own
// (already-locked) shard to make room; it is a best-effort reclaim scoped to
// one shard, not a global strict LRU.
func (s *Storage) evictExpiredLocked(sh *shard, now time.Time) {
	for k, e := range sh.entries {
		if e.expiresAt.Before(now) {
			delete(sh.entries, k)
			atomic.AddInt64(&s.size, -1)
		}
	}
}

// RunEvictionLoop runs a background TTL sweep on interval until stop is
// closed. Eviction may also happen lazily on access (see TryAcquire).
func (s *Storage) RunEvictionLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			for _, sh := range s.shards {
				sh.mu.Lock()
				s.evictExpiredLocked(sh, now)
				sh.mu.Unlock()
			}
		case <-stop:
			return
		}
	}
}
