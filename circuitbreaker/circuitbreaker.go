package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	failureCount    int
	lastFailureTime time.Time
	state           State
	halfOpenTrial   bool
	onStateChange   func(name string, state State)
	mu              sync.Mutex
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// OnStateChange registers fn to be called after every state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the breaker is open. While half-open only one call
// is let through; its outcome closes or re-opens the breaker. The lock is not
// held while fn runs. A call that fails after ctx is done is not counted.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := cb.before()
	if err != nil {
		return err
	}

	err = fn()

	cb.after(trial, err, ctx.Err() != nil)
	return err
}

// before reports whether the admitted call is the half-open trial.
func (cb *CircuitBreaker) before() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureTime) <= cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.failureCount = 0
		cb.halfOpenTrial = true
		return true, nil
	case StateHalfOpen:
		if cb.halfOpenTrial {
			return false, ErrCircuitOpen
		}
		cb.halfOpenTrial = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) after(trial bool, err error, cancelled bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.halfOpenTrial = false
	}

	if err != nil {
		if cancelled {
			// The caller gave up; this says nothing about the collaborator.
			return
		}
		cb.failureCount++
		cb.lastFailureTime = time.Now()

		if trial || cb.failureCount >= cb.maxFailures {
			cb.setState(StateOpen)
		}
		return
	}

	// Success - close if this was the half-open trial
	if trial {
		cb.setState(StateClosed)
	}
	if cb.state == StateClosed {
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, s)
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
