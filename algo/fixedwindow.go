package algo

import "time"

// FixedWindowState is the per-key state for the Fixed Window algorithm.
type FixedWindowState struct {
	WindowNumber int64
	Count        int64
}

// NewFixedWindowState returns a fresh, empty state for now's window.
func NewFixedWindowState(cfg Config, now time.Time) FixedWindowState {
	return FixedWindowState{WindowNumber: windowNumber(now, cfg.Window)}
}

func windowNumber(now time.Time, w time.Duration) int64 {
	return now.UnixNano() / int64(w)
}

// TryConsumeFixedWindow restarts counting at each window boundary; up to 2N
// admissions may occur across an adjacent boundary but never more than N
// within a single window number.
func TryConsumeFixedWindow(state FixedWindowState, now time.Time, cfg Config) (FixedWindowState, bool) {
	wn := windowNumber(now, cfg.Window)
	if wn > state.WindowNumber {
		state = FixedWindowState{WindowNumber: wn, Count: 0}
	}

	if state.Count < cfg.Limit {
		state.Count++
		return state, true
	}
	return state, false
}

// ResetTime returns the end-of-window boundary for the given state.
func (s FixedWindowState) ResetTime(cfg Config) time.Time {
	return time.Unix(0, (s.WindowNumber+1)*int64(cfg.Window))
}
