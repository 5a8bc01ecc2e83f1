// Package utils holds small helpers shared across packages.
package utils

import (
	"context"
	"math/rand/v2"
	"time"

	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

// RetryConfig controls RetryWithBackoff.
type RetryConfig struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// JitterFactor adds up to this fraction of the delay, 0.1 = 10%.
	JitterFactor float64
	// Retryable filters errors; nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig suits connecting to a dependency at startup: three attempts,
// 500ms then 1s apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryWithBackoff calls fn until it succeeds, the attempts run out, fn returns a
// non-retryable error or ctx ends. The last error is wrapped as a timeout when ctx
// ends first and returned as-is otherwise.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation string, fn func(ctx context.Context) error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	delay := config.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if config.Retryable != nil && !config.Retryable(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts {
			return lastErr
		}

		wait := delay
		if config.JitterFactor > 0 && wait > 0 {
			wait += time.Duration(rand.Int64N(int64(float64(wait)*config.JitterFactor) + 1))
		}
		logging.Warn("Retrying operation",
			logging.String("operation", operation),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Err(lastErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.TimeoutError(operation).WithContext("last_error", lastErr.Error())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
}
