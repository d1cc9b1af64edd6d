// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Workflow gate errors. All are fatal for a correction run.
	ErrBackupVerification = errors.New("backup verification failed")
	ErrDateValidation     = errors.New("date validation failed")
	ErrYearMismatch       = errors.New("year validation failed")
	ErrNotConfirmed       = errors.New("correction not confirmed")
	ErrApplyFailed        = errors.New("bulk update failed")

	// ErrReferenceLookupGap marks records excluded from correction. It is reported, never fatal.
	ErrReferenceLookupGap = errors.New("reference lookup gap")

	// Adapter errors.
	ErrTransientAdapter = errors.New("transient adapter error")
	ErrNotFound         = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// StageError reports which workflow gate failed. Unsafe is set when the
// failure happened after the bulk update committed.
type StageError struct {
	Err    error
	Stage  string
	Unsafe bool
}

func (e *StageError) Error() string {
	if e.Unsafe {
		return fmt.Sprintf("%s (after mutation, inspect using the backup): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// Transient marks err as a retryable adapter failure. A nil error stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return err
	}
	return &RetryableError{Err: err, Retryable: true}
}
