package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions returns the backoff used for adapter calls.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransientAdapter) match retryable errors.
func (e *RetryableError) Is(target error) bool {
	return target == ErrTransientAdapter && e.Retryable
}

// WithRetry executes an operation, retrying transient failures with exponential backoff.
// Errors that are not retryable are returned immediately.
func WithRetry(ctx context.Context, operation func() error, opts RetryOptions) error {
	_, err := WithRetryValue(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, opts)
	return err
}

// WithRetryValue is WithRetry for operations that produce a value.
func WithRetryValue[T any](ctx context.Context, operation func() (T, error), opts RetryOptions) (T, error) {
	var zero T
	opts = opts.withDefaults()
	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		value, err := operation()
		if err == nil {
			return value, nil
		}

		if !IsRetryable(err) {
			return zero, err
		}

		if attempt == opts.MaxAttempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
		}

		slog.Warn("Operation failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * opts.Multiplier)
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}
	}

	return zero, ErrMaxRetries
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
	return o
}
