// Package circuit implements the failure-aware gate guarding device
// transports. Three states: closed (normal), open (reject immediately),
// half-open (one trial after cooldown).
package circuit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// State of the breaker.
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
		return "half-open"
	}
	return "unknown"
}

// Breaker tracks failures inside a sliding window. Once the count reaches
// the threshold it opens for the cooldown period, then lets a single trial
// through; success closes it, failure re-opens it.
type Breaker struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    State
	failures []time.Time
	openedAt time.Time
	trialing bool
}

// New creates a closed breaker with the real clock.
func New(threshold int, window, cooldown time.Duration) *Breaker {
	return NewWithClock(threshold, window, cooldown, clockwork.NewRealClock())
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(threshold int, window, cooldown time.Duration, clock clockwork.Clock) *Breaker {
	return &Breaker{
		clock:     clock,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// domain.ErrCircuitOpen until the cooldown has elapsed, at which point it
// transitions to half-open and admits exactly one trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.clock.Since(b.openedAt) < b.cooldown {
			return domain.ErrCircuitOpen
		}
		b.state = HalfOpen
		b.trialing = true
		return nil
	case HalfOpen:
		if b.trialing {
			return domain.ErrCircuitOpen
		}
		b.trialing = true
		return nil
	}
	return nil
}

// Success records a successful call. In half-open it closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.reset()
		return
	}
	// Keep the window from accumulating stale entries.
	b.pruneLocked()
}

// Failure records a failed call. In half-open it re-opens immediately; in
// closed it opens once the windowed count reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.openLocked()
		return
	}

	now := b.clock.Now()
	b.failures = append(b.failures, now)
	b.pruneLocked()
	if len(b.failures) >= b.threshold {
		b.openLocked()
	}
}

// Trip opens the breaker immediately, bypassing the threshold. Used for
// non-retriable failures such as rejected credentials.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openLocked()
}

// Reset forces the breaker closed and clears the failure window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// State returns the current state without transitioning it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) openLocked() {
	b.state = Open
	b.openedAt = b.clock.Now()
	b.failures = b.failures[:0]
	b.trialing = false
}

func (b *Breaker) reset() {
	b.state = Closed
	b.failures = b.failures[:0]
	b.trialing = false
}

func (b *Breaker) pruneLocked() {
	cutoff := b.clock.Now().Add(-b.window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}
