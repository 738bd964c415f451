// Package breaker implements the per-provider circuit breaker consulted by the
// quote orchestrator before each upstream call.
package breaker

import (
	"sync"
	"time"

	"quotegateway/internal/provider"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 60 * time.Second
)

// Config tunes a Breaker. Zero values take the defaults above.
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Provider            string    `json:"provider"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure_time"`
	OpenedAt            time.Time `json:"opened_at"`
}

// Breaker tracks consecutive failures for one provider.
type Breaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	probeInFlight bool
	probeGen      uint64
}

// Permit is handed out by Acquire and identifies the admitted call. Only the
// permit of the current half-open probe can give the probe slot back.
type Permit struct {
	probe bool
	gen   uint64
}

func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting Open to HalfOpen once the open
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.advanceLocked()
	st := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return st
}

// Allow reports whether a call may be attempted now. In HalfOpen exactly one
// caller is admitted until its outcome is recorded.
func (b *Breaker) Allow() bool {
	_, ok := b.Acquire()
	return ok
}

// Acquire is Allow returning the permit to pass to Release.
func (b *Breaker) Acquire() (Permit, bool) {
	b.mu.Lock()
	from, to := b.advanceLocked()
	var (
		p       Permit
		allowed bool
	)
	switch b.state {
	case Closed:
		allowed = true
	case HalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			b.probeGen++
			p = Permit{probe: true, gen: b.probeGen}
			allowed = true
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
	return p, allowed
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.state = Closed
		b.failures = 0
		b.openedAt = time.Time{}
		b.probeInFlight = false
	}
	// A late success from a call started before the trip leaves Open untouched.
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// RecordFailure counts a failed call of the given kind. Authentication failures
// trip the breaker immediately because retrying cannot help.
func (b *Breaker) RecordFailure(kind provider.Kind) {
	b.mu.Lock()
	from := b.state
	now := b.cfg.Now()
	b.lastFailure = now
	switch b.state {
	case HalfOpen:
		b.failures++
		b.tripLocked(now)
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold || kind == provider.KindAuthentication {
			b.tripLocked(now)
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Release gives back a half-open probe slot without recording an outcome, for
// calls abandoned because the caller went away. Permits from calls admitted
// while Closed, or from an earlier probe, are ignored.
func (b *Breaker) Release(p Permit) {
	b.mu.Lock()
	if p.probe && b.state == HalfOpen && b.probeInFlight && p.gen == b.probeGen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

// Reset forces the breaker closed, for operator recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
	b.mu.Unlock()
	b.notify(from, Closed)
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	from, to := b.advanceLocked()
	s := Snapshot{
		Provider:            b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
		OpenedAt:            b.openedAt,
	}
	b.mu.Unlock()
	b.notify(from, to)
	return s
}

func (b *Breaker) tripLocked(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.probeInFlight = false
}

func (b *Breaker) advanceLocked() (State, State) {
	from := b.state
	if b.state == Open && !b.cfg.Now().Before(b.openedAt.Add(b.cfg.OpenTimeout)) {
		b.state = HalfOpen
		b.probeInFlight = false
	}
	return from, b.state
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
