// Package audit implements a bounded, non-blocking audit pipeline: producers
// never wait on the queue, a single consumer goroutine applies per-limiter
// sampling and periodic summary rollups, and shutdown drains within a
// bounded timeout.
package audit

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize       = 1024
	defaultSampleFirstK    = 100
	defaultSampleEveryS    = 10
	defaultSummaryInterval = 60 * time.Second
	dropWarnInterval       = 1 * time.Second
)

// Config configures the pipeline's bounded queue and sampling rule.
type Config struct {
	QueueSize       int
	SampleFirstK    int64
	SampleEveryS    int64
	SummaryInterval time.Duration
	Now             func() time.Time
}

func (c *Config) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.SampleFirstK <= 0 {
		c.SampleFirstK = defaultSampleFirstK
	}
	if c.SampleEveryS <= 0 {
		c.SampleEveryS = defaultSampleEveryS
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = defaultSummaryInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// limiterCounter tracks the per-limiter sampling state. Owned exclusively by
// the consumer goroutine; no locking needed.
type limiterCounter struct {
	minuteStart time.Time
	minuteCount int64

	total      int64
	logged     int64
	suppressed int64
}

// Pipeline is the audit event queue and its single consumer.
type Pipeline struct {
	cfg  Config
	sink Sink
	log  *zap.Logger

	queue chan Event
	stop  chan struct{}
	done  chan struct{}

	dropped      int64 // atomic
	dropWarnedAt int64 // atomic, unix nano of last drop warning

	counters map[string]*limiterCounter // owned solely by the consumer goroutine
}

// New constructs and starts a Pipeline's consumer goroutine.
func New(cfg Config, sink Sink, log *zap.Logger) *Pipeline {
	cfg.withDefaults()
	if sink == nil {
		sink = NoopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		cfg:      cfg,
		sink:     sink,
		log:      log,
		queue:    make(chan Event, cfg.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		counters: make(map[string]*limiterCounter),
	}
	go p.run()
	return p
}

// Enqueue submits an event without blocking. On overflow the event is
// dropped and a throttled warning (at most once per second) is logged.
func (p *Pipeline) Enqueue(e Event) {
	select {
	case p.queue <- e:
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.warnDropped()
	}
}

func (p *Pipeline) warnDropped() {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&p.dropWarnedAt)
	if now-last < int64(dropWarnInterval) {
		return
	}
	if !atomic.CompareAndSwapInt64(&p.dropWarnedAt, last, now) {
		return
	}
	p.log.Warn("audit queue full, dropping events", zap.Int64("dropped_total", atomic.LoadInt64(&p.dropped)))
}

// DroppedCount returns the lifetime count of events dropped on overflow.
func (p *Pipeline) DroppedCount() int64 { return atomic.LoadInt64(&p.dropped) }

func (p *Pipeline) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.SummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-p.queue:
			p.consume(e)
		case <-ticker.C:
			p.emitSummaries()
		case <-p.stop:
			p.drainRemaining()
			return
		}
	}
}

func (p *Pipeline) drainRemaining() {
	for {
		select {
		case e := <-p.queue:
			p.consume(e)
		default:
			return
		}
	}
}

func (p *Pipeline) consume(e Event) {
	if e.Kind != Enforcement {
		// configuration changes and system failures are always logged
		p.sink.Emit(e)
		return
	}

	c := p.counterFor(e.Limiter)
	now := p.cfg.Now()
	if now.Sub(c.minuteStart) >= time.Minute {
		c.minuteStart = now
		c.minuteCount = 0
	}
	c.total++
	c.minuteCount++

	shouldLog := c.minuteCount <= p.cfg.SampleFirstK || c.minuteCount%p.cfg.SampleEveryS == 0
	if shouldLog {
		c.logged++
		p.sink.Emit(e)
	} else {
		c.suppressed++
	}
}

func (p *Pipeline) counterFor(limiter string) *limiterCounter {
	c, ok := p.counters[limiter]
	if !ok {
		c = &limiterCounter{minuteStart: p.cfg.Now()}
		p.counters[limiter] = c
	}
	return c
}

func (p *Pipeline) emitSummaries() {
	now := p.cfg.Now()
	for name, c := range p.counters {
		rate := float64(c.minuteCount)
		p.sink.EmitSummary(Summary{
			Limiter:        name,
			Total:          c.total,
			Logged:         c.logged,
			Suppressed:     c.suppressed,
			LastMinuteRate: rate,
			At:             now,
		})
		c.minuteStart = now
		c.minuteCount = 0
	}
}

// Close signals the consumer to drain the queue and stop, waiting up to
// timeout. If the timeout elapses the consumer is abandoned (its goroutine
// will still exit once it next observes the stop signal, but Close does not
// wait further).
func (p *Pipeline) Close(timeout time.Duration) {
	close(p.stop)
	select {
	case <-p.done:
	case <-time.After(timeout):
		p.log.Warn("audit pipeline did not drain within timeout")
	}
}
