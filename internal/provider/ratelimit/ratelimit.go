package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a non-blocking admission gate.
type Limiter interface {
	// Allow records a call and reports whether it fits in the current window.
	Allow() bool
}

// SlidingWindow admits at most Limit calls in any rolling Interval.
// Timestamps older than the window are pruned on every admission check.
// A zero or negative Limit disables limiting.
type SlidingWindow struct {
	limit    int
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	calls []time.Time // ascending
}

// Option customizes a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *SlidingWindow) { w.now = now }
}

func NewSlidingWindow(limit int, interval time.Duration, opts ...Option) *SlidingWindow {
	if interval <= 0 {
		interval = time.Minute
	}
	w := &SlidingWindow{limit: limit, interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if limit > 0 {
		w.calls = make([]time.Time, 0, limit)
	}
	return w
}

// PerMinute is a convenience for the common requests-per-minute quota.
func PerMinute(n int, opts ...Option) *SlidingWindow {
	return NewSlidingWindow(n, time.Minute, opts...)
}

func (w *SlidingWindow) Allow() bool {
	if w.limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.pruneLocked(now)
	if len(w.calls) >= w.limit {
		return false
	}
	w.calls = append(w.calls, now)
	return true
}

// Remaining reports how many calls would be admitted right now, without recording one.
func (w *SlidingWindow) Remaining() int {
	if w.limit <= 0 {
		return -1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.limit - len(w.calls)
}

// RetryAfter reports how long until the oldest call leaves the window, or 0 when a
// slot is free.
func (w *SlidingWindow) RetryAfter() time.Duration {
	if w.limit <= 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.pruneLocked(now)
	if len(w.calls) < w.limit {
		return 0
	}
	return w.calls[0].Add(w.interval).Sub(now)
}

func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.interval)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
