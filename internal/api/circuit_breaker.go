package api

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow while the breaker rejects calls.
var ErrBreakerOpen = errors.New("api: circuit breaker is open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed passes calls through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial calls through.
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

// minErrorRateSamples is the number of calls a window needs before the
// error rate can trip the breaker.
const minErrorRateSamples = 10

// BreakerSettings configures a CircuitBreaker. Zero values take defaults.
type BreakerSettings struct {
	FailureThreshold   int
	SuccessThreshold   int
	Cooldown           time.Duration
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
}

// CircuitBreaker guards calls to the insurance API. It trips on consecutive
// failures or on the error rate inside a tumbling window, and reports every
// state change to OnStateChange. Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	// OnStateChange is called with the lock held; it must not call back
	// into the breaker.
	OnStateChange func(BreakerState)
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(s BreakerSettings) *CircuitBreaker {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold < 1 {
		s.SuccessThreshold = 2
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	cb := &CircuitBreaker{settings: s, now: time.Now, state: BreakerClosed}
	cb.windowStart = cb.now()
	return cb
}

// Allow returns nil when a call may proceed and ErrBreakerOpen otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a call that reached the API and was answered.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.countWindow(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a call that failed for infrastructure reasons.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.countWindow(true)
		if cb.failures >= cb.settings.FailureThreshold || cb.errorRateExceeded() {
			cb.open()
		}
	case BreakerHalfOpen:
		cb.open()
	}
}

// State returns the current state, moving Open to HalfOpen once the
// cool-down has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// ErrorRate returns the failure ratio and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.resetWindow()
	cb.transition(BreakerOpen)
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.settings.Cooldown {
		cb.successes = 0
		cb.transition(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(to)
	}
}

func (cb *CircuitBreaker) countWindow(failed bool) {
	if cb.settings.ErrorRateWindow <= 0 {
		return
	}
	cb.rollWindow()
	cb.windowTotal++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) rollWindow() {
	if cb.settings.ErrorRateWindow <= 0 {
		return
	}
	if cb.now().Sub(cb.windowStart) > cb.settings.ErrorRateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) errorRateExceeded() bool {
	s := cb.settings
	if s.ErrorRateThreshold <= 0 || s.ErrorRateWindow <= 0 || cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= s.ErrorRateThreshold
}
