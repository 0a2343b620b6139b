package algo

import "time"

// windowCounter is one window's worth of admitted-request count.
type windowCounter struct {
	Start time.Time
	Count int64
}

// SlidingWindowState is the per-key state for the two-window weighted
// Sliding Window Counter algorithm.
type SlidingWindowState struct {
	Current  windowCounter
	Previous windowCounter
	hasPrev  bool
}

// NewSlidingWindowState returns an empty state rooted at now's window.
func NewSlidingWindowState(cfg Config, now time.Time) SlidingWindowState {
	return SlidingWindowState{Current: windowCounter{Start: windowStart(now, cfg.Window)}}
}

func windowStart(now time.Time, w time.Duration) time.Time {
	return now.Truncate(w)
}

// TryConsumeSlidingWindow estimates the request count over the trailing
// window as a weighted blend of the current and previous window counts.
// On a window rotation, the old current becomes previous only if it is
// exactly one window before the new current; otherwise previous is dropped.
// The previous counter is never incremented.
func TryConsumeSlidingWindow(state SlidingWindowState, now time.Time, cfg Config) (SlidingWindowState, bool) {
	cws := windowStart(now, cfg.Window)

	if !cws.Equal(state.Current.Start) {
		if state.Current.Start.Equal(cws.Add(-cfg.Window)) {
			state.Previous = state.Current
			state.hasPrev = true
		} else {
			state.hasPrev = false
		}
		state.Current = windowCounter{Start: cws}
	}

	var weight float64
	if state.hasPrev {
		remaining := float64(cfg.Window) - float64(now.Sub(cws))
		if remaining < 0 {
			remaining = 0
		}
		weight = remaining / float64(cfg.Window)
	}

	estimated := float64(state.Previous.Count)*weight + float64(state.Current.Count)

	if estimated < float64(cfg.Limit) {
		state.Current.Count++
		return state, true
	}
	return state, false
}
