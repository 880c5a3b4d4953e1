// Package circuitbreaker wraps sony/gobreaker for the service's outbound
// calls to MailChimp, PayPal and the geocoder.
package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of requests let through while half-open
	MaxConcurrentRequests int
}

// DefaultConfig returns the configuration used when none is valid
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

var (
	// HTTPConfig suits third-party JSON APIs such as MailChimp
	HTTPConfig = Config{
		MaxFailures:           3,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 2,
	}

	// PaymentConfig tolerates more failures; IPN validation must not be
	// skipped lightly because PayPal retries unacknowledged notifications.
	PaymentConfig = Config{
		MaxFailures:           8,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
)

// Breaker runs calls through a gobreaker.CircuitBreaker
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New creates a breaker. Validation and not-found errors returned by the
// wrapped call are the caller's problem and do not count as failures.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{"error", err.Error()},
			logging.Field{"name", name},
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logging.Field{"breaker", name},
				logging.Field{"from", from.String()},
				logging.Field{"to", to.String()},
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch errors.GetType(err) {
			case errors.ErrTypeValidation, errors.ErrTypeNotFound, errors.ErrTypeConflict:
				return true
			}
			return false
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	switch err {
	case gobreaker.ErrOpenState:
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' is open", b.name), err)
	case gobreaker.ErrTooManyRequests:
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' has too many requests", b.name), err)
	}
	return err
}

// IsOpen reports whether calls are currently being rejected
func (b *Breaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}
