// Package resilience wraps optional backends (cache, database) in circuit
// breakers so their outages degrade instead of failing verdicts.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = gobreaker.ErrOpenState

// BreakerConfig configures a Breaker
type BreakerConfig struct {
	Name                string
	Interval            time.Duration // window after which closed-state counts reset
	Timeout             time.Duration // open duration before a half-open probe
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	// Benign errors count as successes, e.g. not-found lookups
	Benign func(error) bool
}

// DefaultBreakerConfig trips after 3 straight failures, or more than 5% of at
// least 20 requests.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
	}
}

// Breaker is a logging circuit breaker
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker that logs state transitions.
func NewBreaker(logger *zap.Logger, config BreakerConfig) *Breaker {
	st := gobreaker.Settings{
		Name:     config.Name,
		Interval: config.Interval,
		Timeout:  config.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= config.ConsecutiveFailures {
				return true
			}
			if c.Requests < config.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) > config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	if config.Benign != nil {
		st.IsSuccessful = func(err error) bool { return err == nil || config.Benign(err) }
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

// State returns the breaker state name: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether err came from a rejecting breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Call runs fn through b and returns its value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}
