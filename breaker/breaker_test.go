package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clock(start time.Time) (now func() time.Time, advance func(time.Duration)) {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return cur
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			cur = cur.Add(d)
		}
}

func TestBreaker_TripsOnFailureRate(t *testing.T) {
	now, _ := clock(time.Unix(1700000000, 0))
	b := New(Config{FailureThreshold: 0.5, Window: 10 * time.Second, Now: now})

	failing := func(ctx context.Context) (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 5; i++ {
		_, _ = Execute(b, context.Background(), failing)
	}
	require.Equal(t, Open, b.State())
}

func TestBreaker_OpenRejectsWithoutInvokingOp(t *testing.T) {
	now, advance := clock(time.Unix(1700000000, 0))
	b := New(Config{FailureThreshold: 0.1, BaseRecoveryDelay: 30 * time.Second, Jitter: 0, Now: now})

	failing := func(ctx context.Context) (int, error) { return 0, errors.New("boom") }
	_, _ = Execute(b, context.Background(), failing)
	require.Equal(t, Open, b.State())

	var invoked int32
	op := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&invoked, 1)
		return 1, nil
	}

	_, err := Execute(b, context.Background(), op)
	require.ErrorIs(t, err, ErrOpen)
	require.Equal(t, int32(0), atomic.LoadInt32(&invoked))

	advance(31 * time.Second)
	_, err = Execute(b, context.Background(), op)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&invoked))
	require.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeCapEnforced(t *testing.T) {
	now, advance := clock(time.Unix(1700000000, 0))
	b := New(Config{FailureThreshold: 0.1, BaseRecoveryDelay: time.Second, Jitter: 0, MaxProbes: 1, Now: now})

	_, _ = Execute(b, context.Background(), func(ctx context.Context) (int, error) { return 0, errors.New("x") })
	require.Equal(t, Open, b.State())
	advance(2 * time.Second)

	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan error, 2)

	probe := func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Execute(b, context.Background(), probe)
			results <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.LessOrEqual(t, b.ActiveProbes(), int32(1))
	close(release)
	wg.Wait()
	close(results)

	var rejected, succeeded int
	for err := range results {
		if errors.Is(err, ErrOpen) {
			rejected++
		} else {
			succeeded++
		}
	}
	require.Equal(t, 1, rejected)
	require.Equal(t, 1, succeeded)
}

func TestBreaker_JitteredDelayBounds(t *testing.T) {
	base := 30 * time.Second
	j := 0.3
	cfg := Config{BaseRecoveryDelay: base, Jitter: j, Now: time.Now, Rand: func() float64 { return 1.0 }}
	cfg.withDefaults()
	b := &Breaker{cfg: cfg}
	d := b.jitteredDelay()
	require.LessOrEqual(t, d, time.Duration(float64(base)*(1+j))+time.Millisecond)

	cfg.Rand = func() float64 { return 0.0 }
	b2 := &Breaker{cfg: cfg}
	d2 := b2.jitteredDelay()
	require.GreaterOrEqual(t, d2, time.Duration(float64(base)*(1-j))-time.Millisecond)
}

func TestBreaker_HalfOpenFailureReturnsToOpen(t *testing.T) {
	now, advance := clock(time.Unix(1700000000, 0))
	b := New(Config{FailureThreshold: 0.1, BaseRecoveryDelay: time.Second, Jitter: 0, Now: now})

	failing := func(ctx context.Context) (int, error) { return 0, errors.New("boom") }
	_, _ = Execute(b, context.Background(), failing)
	require.Equal(t, Open, b.State())

	advance(2 * time.Second)
	_, _ = Execute(b, context.Background(), failing)
	require.Equal(t, Open, b.State(), "a failed half-open probe returns to open")
}
