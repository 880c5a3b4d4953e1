package utils

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"membership-manager/internal/common/errors"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps exponential growth
	MaxDelay time.Duration

	// BackoffFactor is the multiplier applied after each retry
	BackoffFactor float64

	// JitterFactor adds up to this fraction of the delay at random
	JitterFactor float64

	// RetryableErrors decides which errors trigger a retry. Nil retries all.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns the configuration used for outbound API calls.
// Client-side errors (validation, not found, conflict, auth) are not retried.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		JitterFactor:    0.1,
		RetryableErrors: IsTransient,
	}
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeNotFound, errors.ErrTypeConflict,
		errors.ErrTypeAuth, errors.ErrTypeForbidden, errors.ErrTypeConfig:
		return false
	}
	return true
}

// RetryWithBackoff executes fn up to MaxAttempts times with exponentially
// increasing delays. Non-retryable errors are returned unwrapped.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			if config.JitterFactor > 0 {
				jitter := time.Duration(float64(delay) * config.JitterFactor)
				delay += time.Duration(randomInt64n(int64(jitter)))
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano() % n
	}
	return int64(binary.BigEndian.Uint64(b[:])>>1) % n
}
