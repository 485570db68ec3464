package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned while the circuit breaker is open. It wraps
// ErrStorageUnavailable so callers can treat both alike.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrStorageUnavailable)

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after a run of consecutive backend failures and
// lets a single trial call through once resetTimeout has passed.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	now                 func() time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

// State implements CircuitBreaker
func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.changeState(StateHalfOpen)
	}
	return cb.state
}

// Execute implements CircuitBreaker. Only errors for which IsBackendFailure
// is true count against the circuit.
func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	cb.mu.Lock()
	switch cb.currentState() {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
	if IsBackendFailure(err) {
		cb.failure()
	} else {
		cb.success()
	}
	return err
}

func (cb *DefaultCircuitBreaker) success() {
	cb.consecutiveFailures = 0
	cb.changeState(StateClosed)
}

func (cb *DefaultCircuitBreaker) failure() {
	cb.consecutiveFailures++
	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.openedAt = cb.now()
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// IsBackendFailure reports whether err says the backend is unhealthy rather
// than answering a question. Misses, quota refusals and caller cancellation
// are answers.
func IsBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
