package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Default breaker settings.
const (
	DefaultThreshold = 5
	DefaultTimeout   = 30 * time.Second
)

// State values reported to StateFunc, matching gobreaker.State.
const (
	StateClosed   = int(gobreaker.StateClosed)
	StateHalfOpen = int(gobreaker.StateHalfOpen)
	StateOpen     = int(gobreaker.StateOpen)
)

// Config configures a breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Timeout: DefaultTimeout}
}

// StateFunc is called when a breaker changes state.
type StateFunc func(name string, state int)

// CircuitBreaker wraps gobreaker.CircuitBreaker. A nil *CircuitBreaker
// runs every call.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker named name.
func NewCircuitBreaker(name string, cfg Config, logger observability.Logger, onState StateFunc) *CircuitBreaker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	threshold := safeIntToUint32(cfg.Threshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Cancellation by the caller says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if onState != nil {
				onState(name, int(to))
			}
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Execute runs fn through the breaker. It returns ErrOpen without calling
// fn while the breaker is open.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() int {
	if b == nil {
		return StateClosed
	}
	return int(b.cb.State())
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	if b == nil {
		return ""
	}
	return b.cb.Name()
}

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
