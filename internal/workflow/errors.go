package workflow

import (
	"context"
	"errors"
	"time"

	apperrors "pingup/internal/errors"
)

var (
	// ErrSuspended is returned by RunContext.Sleep and SleepUntil when the
	// run has been parked. Definitions must return it unchanged.
	ErrSuspended = errors.New("workflow run suspended")

	// ErrStepFailed wraps the last error of a step that exhausted its
	// retries. The run is already marked failed when it is returned.
	ErrStepFailed = errors.New("workflow step failed")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The step fails on first
// occurrence.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retryDelayer is implemented by errors from a dependency that is refusing
// calls for a known period, such as an open circuit breaker.
type retryDelayer interface {
	RetryDelay() time.Duration
}

// deferral reports how long a step should be parked instead of retried.
func deferral(err error) (time.Duration, bool) {
	var rd retryDelayer
	if errors.As(err, &rd) {
		return rd.RetryDelay(), true
	}
	return 0, false
}

// isRetryable decides whether a step error is retried with backoff.
func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := deferral(err); ok {
		return false
	}

	if appErr, ok := apperrors.As(err); ok {
		switch appErr.Code {
		case apperrors.ErrCodeValidationFailed,
			apperrors.ErrCodeInvalidInput,
			apperrors.ErrCodeNotFound,
			apperrors.ErrCodeAuthentication,
			apperrors.ErrCodeAuthorization,
			apperrors.ErrCodeInvalidConfig,
			apperrors.ErrCodeMissingConfig:
			return false
		case apperrors.ErrCodeUpstream:
			return appErr.Retryable
		}
	}
	return true
}

// isTransientStoreError reports errors after which the run should be
// released for another attempt instead of failed.
func isTransientStoreError(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrCodeDatabaseQuery) ||
		apperrors.HasCode(err, apperrors.ErrCodeDatabaseConnection)
}
