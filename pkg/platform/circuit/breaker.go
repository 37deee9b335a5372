// Package circuit provides a minimal circuit breaker for external capabilities.
package circuit

import "sync"

// State represents the breaker state.
type State int

const (
	// StateClosed means requests flow to the primary path.
	StateClosed State = iota
	// StateOpen means the circuit tripped and callers should fail fast.
	StateOpen
)

// Breaker tracks consecutive failures for an external dependency, typically
// the ledger RPC endpoint. After FailureThreshold consecutive failures the
// circuit opens; after SuccessThreshold consecutive successes while open it
// closes again. Two states only; there is no separate half-open bookkeeping.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets consecutive failures needed to open. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets consecutive successes needed to close. Default 3.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// New creates a breaker named for logging and metrics.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// IsOpen reports whether the circuit is tripped.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// RecordFailure notes a failed call. It returns true when the circuit is now
// open and the caller should stop sending traffic, plus whether this call
// caused the transition.
func (b *Breaker) RecordFailure() (open bool, tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0

	if b.state == StateOpen {
		return true, false
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		return true, true
	}
	return false, false
}

// RecordSuccess notes a successful call. It returns true when the circuit is
// closed (primary path usable), plus whether this call closed it.
func (b *Breaker) RecordSuccess() (closed bool, recovered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			return true, true
		}
		return false, false
	}

	b.failureCount = 0
	return true, false
}

// Reset returns the breaker to closed with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}
