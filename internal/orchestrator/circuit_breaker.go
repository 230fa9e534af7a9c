package orchestrator

import "time"

// BreakerState is the circuit breaker state for a node.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"    // Node offered to the scheduler
	BreakerOpen     BreakerState = "open"      // Node excluded until the open timeout elapses
	BreakerHalfOpen BreakerState = "half-open" // One trial admission after the timeout
)

// CircuitBreaker gates whether a repeatedly failing node is offered to the
// placement scheduler. Probe results feed it: failures accumulate until the
// threshold opens the breaker, a success closes it again. While open, the
// node is excluded from scheduling; once the open timeout elapses the
// breaker admits the node half-open so a recovered node can re-enter
// without waiting for the full health state machine.
//
// Not self-locking: the orchestrator mutates breakers only under its own
// mutex, so the breaker carries no lock of its own.
type CircuitBreaker struct {
	state        BreakerState
	failureCount int
	threshold    int           // Failures before opening
	openTimeout  time.Duration // How long open blocks scheduling
	lastFailure  time.Time
}

func newCircuitBreaker(threshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:       BreakerClosed,
		threshold:   threshold,
		openTimeout: openTimeout,
	}
}

// Allow reports whether the node may be offered to the scheduler at time
// now. An open breaker whose timeout has elapsed transitions to half-open
// and admits the node for one trial.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	switch b.state {
	case BreakerOpen:
		if now.Sub(b.lastFailure) >= b.openTimeout {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.state = BreakerClosed
	b.failureCount = 0
}

// RecordFailure counts a failure at time now, opening the breaker once the
// threshold is reached. A failure during half-open re-opens immediately.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.failureCount++
	b.lastFailure = now
	if b.state == BreakerHalfOpen || b.failureCount >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState { return b.state }
