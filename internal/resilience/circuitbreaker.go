// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a three-position breaker
// (closed → open → half-open) tracked by just two fields: a consecutive
// failure count and the monotonic instant the breaker opened. Callers ask
// [CircuitBreaker.ShouldTry] before dialing a dependency and report the
// outcome with [CircuitBreaker.RecordSuccess] or
// [CircuitBreaker.RecordFailure]; this keeps the breaker usable around
// code that cannot be wrapped in a closure, such as streaming synthesis
// where success is only known once the first audio chunk arrives.
// [FallbackGroup] composes multiple instances of any provider type with
// per-entry breakers so that a failing primary is automatically bypassed
// in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are skipped until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered once the cooldown elapses.
	// The next call is allowed through; a success closes the breaker, a
	// failure re-opens it with a fresh cooldown window.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// FailureThreshold is the number of consecutive failures before the
	// breaker opens. Default: 3.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe. Default: 60s.
	Cooldown time.Duration
}

// CircuitBreaker implements the three-position breaker protocol.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu              sync.Mutex
	consecutiveFail int
	openedAt        time.Time
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
	}
}

// ShouldTry reports whether the caller should attempt the protected
// operation. True while closed, false while open, and true again once the
// cooldown has elapsed (the half-open probe).
func (cb *CircuitBreaker) ShouldTry() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.consecutiveFail < cb.threshold {
		return true
	}
	return !cb.openedAt.IsZero() && time.Since(cb.openedAt) >= cb.cooldown
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.consecutiveFail >= cb.threshold {
		slog.Info("circuit breaker closed after successful probe", "name", cb.name)
	}
	cb.consecutiveFail = 0
	cb.openedAt = time.Time{}
}

// RecordFailure counts a failure. Crossing the threshold opens the breaker;
// a failure on a half-open probe re-opens it with a fresh cooldown window.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail++
	if cb.consecutiveFail < cb.threshold {
		return
	}
	if cb.openedAt.IsZero() {
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutiveFailures", cb.consecutiveFail,
			"cooldown", cb.cooldown)
	} else if time.Since(cb.openedAt) >= cb.cooldown {
		// Failed probe — restart the cooldown clock.
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker re-opened after failed probe", "name", cb.name)
	}
}

// Execute runs fn if [CircuitBreaker.ShouldTry] allows it and records the
// outcome. In the open state it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.ShouldTry() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// State returns the current [State] of the breaker, derived from the two
// tracked fields.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.consecutiveFail < cb.threshold {
		return StateClosed
	}
	if !cb.openedAt.IsZero() && time.Since(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return StateOpen
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure accounting.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	cb.openedAt = time.Time{}
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
