package gateway

import (
	"sync"
	"time"
)

// CircuitState is the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through and counts consecutive failures.
	CircuitClosed CircuitState = iota
	// CircuitOpen short-circuits every call until the cooldown has elapsed.
	CircuitOpen
	// CircuitHalfOpen lets calls through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call is allowed.
	Cooldown time.Duration
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker guards the external model call.
//
// Closed counts consecutive failures and opens at the threshold. Open rejects
// calls until the cooldown has elapsed, then the next Allow moves to
// HalfOpen. In HalfOpen any failure re-opens with a fresh openedAt and any
// success closes and clears the counter.
type CircuitBreaker struct {
	config BreakerConfig
	now    func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	lastFailure         time.Time
	lastStateChange     time.Time
	shortCircuited      uint64
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastStateChange     time.Time `json:"last_state_change"`
	ShortCircuited      uint64    `json:"short_circuited"`
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}
	return &CircuitBreaker{
		config:          config,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// SetClock replaces the time source. Tests only.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	cb.now = now
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var from CircuitState
	changed := false
	allowed := true

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) > cb.config.Cooldown {
			from, changed = cb.transitionTo(CircuitHalfOpen)
		} else {
			cb.shortCircuited++
			allowed = false
		}
	case CircuitClosed, CircuitHalfOpen:
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, CircuitHalfOpen)
	}
	return allowed
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.consecutiveFailures = 0
	var from CircuitState
	changed := false
	if cb.state != CircuitClosed {
		from, changed = cb.transitionTo(CircuitClosed)
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, CircuitClosed)
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	now := cb.now()
	cb.consecutiveFailures++
	cb.lastFailure = now

	var from CircuitState
	changed := false
	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			from, changed = cb.transitionTo(CircuitOpen)
			cb.openedAt = now
		}
	case CircuitHalfOpen:
		from, changed = cb.transitionTo(CircuitOpen)
		cb.openedAt = now
	case CircuitOpen:
		// A call admitted before the circuit opened has failed too.
		cb.openedAt = now
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns breaker statistics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
		LastFailure:         cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
		ShortCircuited:      cb.shortCircuited,
	}
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(to CircuitState) (CircuitState, bool) {
	from := cb.state
	if from == to {
		return from, false
	}
	cb.state = to
	cb.lastStateChange = cb.now()
	return from, true
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
