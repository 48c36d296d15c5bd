package httpclient

import (
	"sync"
	"time"

	bioetlerrors "bioetl.dev/bioetl/errors"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker implements a closed/open/half-open state machine. The
// half-open state permits exactly one trial call before reverting fully
// closed or fully open.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	timeout          time.Duration

	state            breakerState
	consecutiveFails int
	openedAt         time.Time
	trialInFlight    bool
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive failures and attempts a trial call again after timeout has
// elapsed since opening. failureThreshold <= 0 disables the breaker.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            breakerClosed,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and
// the timeout has not yet elapsed, it returns a CircuitOpenError. When
// the timeout has elapsed, it transitions to half-open and allows exactly
// one trial call through; further calls are rejected until that trial
// resolves via Success/Failure.
func (b *CircuitBreaker) Allow(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerHalfOpen:
		if b.trialInFlight {
			return &bioetlerrors.CircuitOpenError{Endpoint: endpoint}
		}
		b.trialInFlight = true
		return nil
	case breakerOpen:
		if time.Since(b.openedAt) < b.timeout {
			return &bioetlerrors.CircuitOpenError{Endpoint: endpoint}
		}
		b.state = breakerHalfOpen
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call, closing the breaker if it was
// half-open and resetting the consecutive-failure count.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.trialInFlight = false
	b.state = breakerClosed
}

// Failure records a failed call. In the closed state it increments the
// consecutive-failure counter and opens the breaker once the threshold is
// reached; in the half-open state any failure reopens it immediately.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.trialInFlight = false
		b.state = breakerOpen
		b.openedAt = time.Now()
	case breakerClosed:
		if b.failureThreshold <= 0 {
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.failureThreshold {
			b.state = breakerOpen
			b.openedAt = time.Now()
		}
	}
}
