package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed means every provider in a [FallbackGroup] either failed or
// was sitting behind an open breaker. The caller's turn is lost; the dialog
// layer decides whether that ends the call.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig carries the breaker settings applied to every provider in
// a [FallbackGroup]. Each provider still gets its own breaker instance, so
// a flapping primary never poisons the fallback's failure count.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// FallbackGroup is an ordered chain of interchangeable providers, each
// guarded by its own [CircuitBreaker]. A request walks the chain front to
// back, skipping open breakers, until one provider serves it.
//
// The chain is built once at startup and never mutated afterwards, which is
// what makes concurrent Execute calls safe.
type FallbackGroup[T any] struct {
	names    []string
	values   []T
	breakers []*CircuitBreaker
	cfg      FallbackConfig
}

// NewFallbackGroup starts a chain with primary at the front. Register
// backups with [FallbackGroup.AddFallback] before serving traffic.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider to the end of the chain with a fresh
// breaker named after it.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.names = append(fg.names, name)
	fg.values = append(fg.values, value)
	fg.breakers = append(fg.breakers, NewCircuitBreaker(bc))
}

// Execute runs fn against the first provider whose breaker lets it through
// and which returns nil. When the whole chain fails it returns
// [ErrAllFailed] wrapped around the last provider's error.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for operations that produce
// a value. It is a free function because Go methods cannot introduce the
// result type parameter.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i, value := range fg.values {
		var result R
		err := fg.breakers[i].Execute(func() error {
			var callErr error
			result, callErr = fn(value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping provider (circuit open)", "provider", fg.names[i])
		default:
			slog.Warn("provider failed, trying next", "provider", fg.names[i], "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
