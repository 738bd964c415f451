package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSlidingWindow_RejectsNPlusOne(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	w := NewSlidingWindow(3, time.Minute, WithClock(clk.Now))

	for i := 0; i < 3; i++ {
		require.Truef(t, w.Allow(), "call %d should be admitted", i+1)
		clk.Advance(time.Second)
	}
	require.False(t, w.Allow(), "4th call inside the window must be rejected")
	require.Equal(t, 0, w.Remaining())
}

func TestSlidingWindow_SlotsFreeAsWindowSlides(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	w := NewSlidingWindow(2, time.Minute, WithClock(clk.Now))

	require.True(t, w.Allow())
	clk.Advance(30 * time.Second)
	require.True(t, w.Allow())
	require.False(t, w.Allow())
	require.Equal(t, 30*time.Second, w.RetryAfter())

	// First call ages out exactly at the window boundary.
	clk.Advance(30 * time.Second)
	require.True(t, w.Allow())
	require.False(t, w.Allow())

	clk.Advance(time.Minute)
	require.Equal(t, 2, w.Remaining())
	require.Equal(t, time.Duration(0), w.RetryAfter())
}

func TestSlidingWindow_RejectedCallsDoNotConsumeSlots(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	w := NewSlidingWindow(1, time.Minute, WithClock(clk.Now))

	require.True(t, w.Allow())
	for i := 0; i < 10; i++ {
		require.False(t, w.Allow())
	}
	clk.Advance(time.Minute)
	require.True(t, w.Allow())
}

func TestSlidingWindow_ZeroLimitDisables(t *testing.T) {
	t.Parallel()

	w := NewSlidingWindow(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.True(t, w.Allow())
	}
	require.Equal(t, -1, w.Remaining())
}

func TestSlidingWindow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	t.Parallel()

	w := PerMinute(25)
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 25, admitted.Load())
}
