package engine

import "time"

// Decision is the engine's immutable result.
type Decision struct {
	Allowed       bool
	Limiter       string
	Limit         int64
	Remaining     int64
	ResetTime     time.Time
	Reason        string
	DelayMs       int64
	ProblemDetail *ProblemDetail
}

// RetryAfterSeconds derives retry_after_seconds = max(0, ceil((reset_time -
// now)/1000)).
func (d Decision) RetryAfterSeconds(now time.Time) int64 {
	remainingMs := d.ResetTime.Sub(now).Milliseconds()
	if remainingMs <= 0 {
		return 0
	}
	secs := remainingMs / 1000
	if remainingMs%1000 != 0 {
		secs++
	}
	return secs
}
