package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/BrianMills2718/kgas/internal/storage"
)

// BreakerConfig holds the configuration for the database circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 3.
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning
	// to half-open. Default: 30 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required
	// in half-open state to close the circuit again. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// breaker wraps gobreaker to protect database calls from a failing or
// unreachable PostgreSQL server. When closed, requests pass through
// normally. After MaxFailures consecutive failures the circuit opens and
// rejects all requests with storage.ErrCircuitOpen. After Timeout the
// circuit transitions to half-open and allows test requests through.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(config BreakerConfig) *breaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxSuccesses == 0 {
		config.HalfOpenMaxSuccesses = 2
	}

	settings := gobreaker.Settings{
		Name:        "PostgresCircuitBreaker",
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0, // Don't clear counts periodically
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Missing rows and caller mistakes are not server failures
			// and must not trip the circuit.
			return err == nil ||
				errors.Is(err, sql.ErrNoRows) ||
				errors.Is(err, storage.ErrNotFound) ||
				errors.Is(err, storage.ErrInvalidInput) ||
				errors.Is(err, context.Canceled)
		},
	}

	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// execute runs fn through the circuit breaker. If the circuit is open it
// returns storage.ErrCircuitOpen immediately.
func (b *breaker) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, storage.ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

// State returns the current state of the circuit breaker: "closed",
// "open", or "half-open".
func (b *breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
