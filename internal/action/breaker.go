package action

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the open timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker trips after a run of consecutive failures against one webhook host
// and stays open for a fixed timeout. It is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive arguments fall back to
// 5 failures, 2 successes and 30 seconds.
func NewBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentState() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a call that reached the host and got a non-5xx answer.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState moves an expired open breaker to half-open. Must be called
// with the lock held.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}
