package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotegateway/internal/provider"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, timeout time.Duration) (*Breaker, *clock) {
	clk := &clock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New("primary", Config{FailureThreshold: threshold, OpenTimeout: timeout, Now: clk.Now}), clk
}

func TestBreaker_Lifecycle(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(5, 60*time.Second)
	require.Equal(t, Closed, b.State())

	// Arrange: four failures keep the circuit closed.
	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordFailure(provider.KindNetwork)
	}
	require.Equal(t, Closed, b.State())

	// Act: the fifth consecutive failure trips it.
	require.True(t, b.Allow())
	b.RecordFailure(provider.KindNetwork)

	// Assert: open rejects without admitting anything.
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())
	clk.Advance(59 * time.Second)
	require.False(t, b.Allow())

	// Assert: after the timeout exactly one probe is admitted.
	clk.Advance(time.Second)
	require.Equal(t, HalfOpen, b.State())
	require.True(t, b.Allow())
	require.False(t, b.Allow())

	// Act: the probe succeeds.
	b.RecordSuccess()
	snap := b.Snapshot()
	require.Equal(t, Closed, snap.State)
	require.Equal(t, 0, snap.ConsecutiveFailures)
	require.True(t, b.Allow())
}

func TestBreaker_FailedProbeReopensAndRestartsTimeout(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(2, 10*time.Second)
	b.RecordFailure(provider.KindTimeout)
	b.RecordFailure(provider.KindTimeout)
	require.Equal(t, Open, b.State())

	clk.Advance(10 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure(provider.KindTimeout)
	require.Equal(t, Open, b.State())

	// The timeout counts from the failed probe, not the first trip.
	clk.Advance(9 * time.Second)
	require.False(t, b.Allow())
	clk.Advance(time.Second)
	require.True(t, b.Allow())
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure(provider.KindNetwork)
	b.RecordFailure(provider.KindNetwork)
	b.RecordSuccess()
	require.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	b.RecordFailure(provider.KindNetwork)
	b.RecordFailure(provider.KindNetwork)
	require.Equal(t, Closed, b.State())
}

func TestBreaker_AuthenticationTripsImmediately(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(5, time.Minute)
	b.RecordFailure(provider.KindAuthentication)
	require.Equal(t, Open, b.State())
}

func TestBreaker_ManualReset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(1, time.Hour)
	b.RecordFailure(provider.KindNetwork)
	require.Equal(t, Open, b.State())

	b.Reset()
	snap := b.Snapshot()
	require.Equal(t, Closed, snap.State)
	require.Equal(t, 0, snap.ConsecutiveFailures)
	require.True(t, b.Allow())
}

func TestBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(1, time.Second)
	b.RecordFailure(provider.KindNetwork)
	clk.Advance(time.Second)

	p, ok := b.Acquire()
	require.True(t, ok)
	require.False(t, b.Allow())
	b.Release(p)
	require.True(t, b.Allow())
}

func TestBreaker_ReleaseIgnoresForeignPermits(t *testing.T) {
	t.Parallel()

	// Arrange: a call admitted while closed is still in flight when the
	// circuit trips and moves to half-open
	b, clk := newTestBreaker(1, time.Second)
	late, ok := b.Acquire()
	require.True(t, ok)
	b.RecordFailure(provider.KindNetwork)
	clk.Advance(time.Second)

	probe, ok := b.Acquire()
	require.True(t, ok)

	// Act: the late caller gives its slot back
	b.Release(late)

	// Assert: the probe slot stays taken
	require.False(t, b.Allow())

	// Act: a permit from a superseded probe is ignored too
	b.Release(probe)
	next, ok := b.Acquire()
	require.True(t, ok)
	b.Release(probe)

	// Assert
	require.False(t, b.Allow())
	b.Release(next)
	require.True(t, b.Allow())
}

func TestBreaker_ConcurrentFailuresDoNotOvercount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(5, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure(provider.KindNetwork)
		}()
	}
	wg.Wait()

	snap := b.Snapshot()
	require.Equal(t, Open, snap.State)
	require.Equal(t, 5, snap.ConsecutiveFailures)
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	var mu sync.Mutex
	var got []string
	b := New("secondary", Config{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		Now:              clk.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			got = append(got, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	b.RecordFailure(provider.KindNetwork)
	clk.Advance(time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()

	require.Equal(t, []string{
		"secondary:closed->open",
		"secondary:open->half_open",
		"secondary:half_open->closed",
	}, got)
}
