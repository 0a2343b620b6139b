package throttle

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically polls a UsageSource and caches the last observed
// usage, so callers (the engine) can read a fresh value without each one
// paying for its own round trip.
type Monitor struct {
	source   UsageSource
	interval time.Duration
	log      *zap.Logger

	usage uint64 // math.Float64bits, atomic
}

// NewMonitor constructs a Monitor. It does not start polling until Run is
// called.
func NewMonitor(source UsageSource, interval time.Duration, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{source: source, interval: interval, log: log}
}

// CurrentUsage returns the last successfully observed usage value, or 0
// before the first successful poll.
func (m *Monitor) CurrentUsage() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.usage))
}

// Run polls the source on m.interval until ctx is done. Intended to run in
// its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage, err := m.source.Usage(ctx)
			if err != nil {
				m.log.Warn("usage source poll failed, keeping last value", zap.Error(err))
				continue
			}
			atomic.StoreUint64(&m.usage, math.Float64bits(usage))
		}
	}
}
