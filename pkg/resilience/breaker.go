// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures per-capability circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration

	// Interval is the cyclic period of the closed state for clearing failure counts.
	// If 0, failures never reset until the circuit opens.
	Interval time.Duration
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: defaultBreakerMaxFailures,
		Timeout:     defaultBreakerTimeout,
		Interval:    defaultBreakerInterval,
	}
}

// BreakerGroup maintains one circuit breaker per capability name. When a
// capability fails repeatedly the circuit opens and subsequent invocations
// fail fast without reaching the handler, preventing retry storms.
type BreakerGroup struct {
	config BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewBreakerGroup creates a breaker group. Zero-valued config fields fall
// back to defaults.
func NewBreakerGroup(config BreakerConfig, logger *slog.Logger) *BreakerGroup {
	if config.MaxFailures == 0 {
		config.MaxFailures = defaultBreakerMaxFailures
	}
	if config.Timeout == 0 {
		config.Timeout = defaultBreakerTimeout
	}
	if config.Interval == 0 {
		config.Interval = defaultBreakerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerGroup{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute routes fn through the capability's breaker. An open circuit
// yields a recoverable step failure so a later retry may probe it.
func (g *BreakerGroup) Execute(capability string, fn func() (any, error)) (any, error) {
	cb := g.breaker(capability)
	out, err := cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.New(errors.CodeStepFailed, "capability circuit open", err).
			WithContext("capability", capability).
			WithRecoverable(true)
	}
	return out, err
}

// State returns the breaker state for a capability, for monitoring.
func (g *BreakerGroup) State(capability string) gobreaker.State {
	return g.breaker(capability).State()
}

func (g *BreakerGroup) breaker(capability string) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[capability]; ok {
		return cb
	}

	maxFailures := g.config.MaxFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "capability:" + capability,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    g.config.Interval,
		Timeout:     g.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			recordBreakerState(capability, to)
		},
		IsSuccessful: func(err error) bool {
			// Run cancellation is not the capability's fault.
			return err == nil || errors.IsCode(err, errors.CodeCancelled)
		},
	})
	g.breakers[capability] = cb
	return cb
}
