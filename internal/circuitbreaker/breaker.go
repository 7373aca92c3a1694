package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when circuit is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Implements the circuit breaker pattern around calls to the shared store
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	trialInFlight   bool
	lastFailureTime time.Time
	lastStateChange time.Time

	// Configuration
	failureThreshold int           // Consecutive failures before opening
	resetTimeout     time.Duration // How long to stay open before a trial call
	now              func() time.Time
	onStateChange    func(from, to State)
}

type Config struct {
	FailureThreshold int           // Default: 5
	ResetTimeout     time.Duration // Default: 10 seconds
	Now              func() time.Time
	OnStateChange    func(from, to State) // Called with the breaker lock held; must not call back into it
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		now:              cfg.Now,
		onStateChange:    cfg.OnStateChange,
		lastStateChange:  cfg.Now(),
	}
}

// Executes the given function with circuit breaker protection.
// Returns ErrCircuitOpen without calling fn while the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	defer func() {
		if r := recover(); r != nil {
			cb.mu.Lock()
			cb.onFailure()
			cb.mu.Unlock()
			panic(r)
		}
	}()

	// Execute the function
	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
		return err
	}

	cb.onSuccess()
	return nil
}

// Execute runs action under cb and never returns an error: when the circuit is
// open or the action fails, the fallback result is returned instead. The fallback
// receives the action's error, or nil when the call was short-circuited.
func Execute[T any](cb *CircuitBreaker, action func() (T, error), fallback func(err error) T) T {
	var result T
	err := cb.Call(func() error {
		r, err := action()
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if errors.Is(err, ErrCircuitOpen) {
		return fallback(nil)
	}
	if err != nil {
		return fallback(err)
	}

	return result
}

// Decides whether a call may reach the protected resource
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		// Check if we should transition from Open to Half-Open
		if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.trialInFlight = true
		return true
	case StateHalfOpen:
		// Only one trial at a time
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return true
	}
}

// Handles a failed call
func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.now()
	cb.trialInFlight = false

	if cb.failureCount >= cb.failureThreshold {
		cb.setState(StateOpen)
	}
}

// Handles a successful call
func (cb *CircuitBreaker) onSuccess() {
	cb.failureCount = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}

// Changes the circuit breaker state
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	if cb.onStateChange != nil {
		cb.onStateChange(from, newState)
	}
}

// Returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}

// Returns a snapshot of the breaker without changing its state
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		ResetTimeoutMs:  cb.resetTimeout.Milliseconds(),
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// Holds circuit breaker status
type Status struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	ResetTimeoutMs  int64     `json:"reset_timeout_ms"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}
