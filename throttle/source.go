package throttle

import "context"

// UsageSource supplies a single 0..100 usage signal that the Monitor feeds
// into a Throttler on a schedule.
type UsageSource interface {
	Usage(ctx context.Context) (float64, error)
}

func clampUsage(u float64) float64 {
	if u < 0 {
		return 0
	}
	if u > 100 {
		return 100
	}
	return u
}
