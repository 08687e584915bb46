// Package retry runs operations again after transient failures.
//
// Two error wrappers steer the loop from the inside: Permanent stops it
// early, and WithRetryAfter stretches the next sleep to a vendor-provided
// reset time. Both survive wrapping and are detected anywhere in a chain.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config shapes one retry loop.
type Config struct {
	// MaxAttempts caps the total number of attempts, the first included.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// InitialDelay is the sleep after the first failure. Zero or negative
	// disables sleeping entirely, which tests rely on.
	InitialDelay time.Duration

	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration

	// Factor multiplies the delay after every failed attempt. Values at or
	// below zero mean a constant delay.
	Factor float64
}

// Linear returns a config that waits the same delay between every attempt.
func Linear(maxAttempts int, delay time.Duration) Config {
	return Config{MaxAttempts: maxAttempts, InitialDelay: delay, MaxDelay: delay, Factor: 1}
}

// Result reports how a retry loop ended.
type Result struct {
	// Attempts is how many times the operation ran.
	Attempts int

	// Err is the last failure, or nil on success.
	Err error

	// Duration is the wall time the loop held, sleeps included.
	Duration time.Duration
}

// Do runs op until it succeeds, returns a Permanent error, exhausts
// MaxAttempts, or the context ends. The sleep between attempts starts at
// InitialDelay and grows by Factor up to MaxDelay; a RetryAfterError in the
// failure chain stretches the sleep to its reset time when that is later.
func Do(ctx context.Context, config Config, op func() error) Result {
	start := time.Now()
	result := Result{}

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	factor := config.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := config.InitialDelay
	if delay < 0 {
		delay = 0
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}

		result.Err = op()
		if result.Err == nil || IsPermanent(result.Err) || attempt == attempts {
			break
		}

		sleep := delay
		if resetAt, ok := RetryAfter(result.Err); ok {
			if until := time.Until(resetAt); until > sleep {
				sleep = until
			}
		}
		if sleep > 0 {
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				result.Duration = time.Since(start)
				return result
			case <-time.After(sleep):
			}
		}

		delay = time.Duration(float64(delay) * factor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue is Do for operations that produce a value.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError marks a failure the loop must not retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying when it appears.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether a PermanentError appears in err's chain.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// RetryAfterError carries a vendor-provided reset time, typically parsed
// from a 429's Retry-After header.
type RetryAfterError struct {
	Err     error
	ResetAt time.Time
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }

func (e *RetryAfterError) Unwrap() error { return e.Err }

// WithRetryAfter wraps err with a reset deadline.
func WithRetryAfter(err error, resetAt time.Time) error {
	if err == nil {
		return nil
	}
	return &RetryAfterError{Err: err, ResetAt: resetAt}
}

// RetryAfter extracts a reset deadline from an error chain.
func RetryAfter(err error) (time.Time, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.ResetAt, true
	}
	return time.Time{}, false
}
