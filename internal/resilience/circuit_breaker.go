// SPDX-License-Identifier: MIT

// Package resilience protects the platform API from request storms when it
// is unreachable.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vidbeat/vidbeat/internal/metrics"
)

// State is the position of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen matches every rejection made while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of calling through. It wraps ErrCircuitOpen.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn <= 0 {
		return fmt.Sprintf("%s: %v (probe in flight)", e.Name, ErrCircuitOpen)
	}
	return fmt.Sprintf("%s: %v (retry in %s)", e.Name, ErrCircuitOpen, e.RetryIn.Round(time.Second))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// CircuitBreaker opens after Threshold consecutive counted failures. After
// the cooldown a single probe call is let through; its result closes or
// re-opens the breaker.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	counted   func(error) bool

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	probing  bool
}

// Option customises a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithNow replaces the clock.
func WithNow(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithFailureFilter limits which errors count towards opening. Errors it
// rejects still reach the caller and count as a healthy answer.
func WithFailureFilter(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.counted = fn }
}

// NewCircuitBreaker returns a closed breaker. Non-positive arguments fall
// back to 5 failures and 30s.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		counted:   func(err error) bool { return err != nil },
		state:     StateClosed,
	}
	if cb.threshold <= 0 {
		cb.threshold = 5
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(name, string(StateClosed))
	return cb
}

// Execute calls fn unless the breaker refuses with an *OpenError.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	result := fn()
	cb.settle(probe, result != nil && cb.counted(result))
	return result
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		wait := cb.cooldown - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return false, &OpenError{Name: cb.name, RetryIn: wait}
		}
		cb.set(StateHalfOpen)
	}
	if cb.probing {
		return false, &OpenError{Name: cb.name}
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) settle(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
		if failed {
			metrics.RecordCircuitBreakerTrip(cb.name, "probe_failed")
			cb.open()
			return
		}
		cb.streak = 0
		cb.set(StateClosed)
		return
	}
	if !failed {
		cb.streak = 0
		return
	}
	cb.streak++
	if cb.state == StateClosed && cb.streak >= cb.threshold {
		metrics.RecordCircuitBreakerTrip(cb.name, "threshold")
		cb.open()
	}
}

// open and set must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.set(StateOpen)
}

func (cb *CircuitBreaker) set(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	metrics.SetCircuitBreakerState(cb.name, string(s))
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
