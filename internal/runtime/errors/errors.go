package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired  = sterrors.New("eventbus: configuration is required")
	ErrLoggerRequired  = sterrors.New("eventbus: logger is required")
	ErrHandlerRequired = sterrors.New("eventbus: handler function is required")
	ErrTopicRequired   = sterrors.New("eventbus: topic is required")
	ErrClosed          = sterrors.New("eventbus: transport is closed")
	ErrUnknownMode     = sterrors.New("eventbus: unknown transport mode")
	ErrAttemptTimeout  = sterrors.New("eventbus: handler attempt timed out")
	ErrHandlerPanic    = sterrors.New("eventbus: handler panicked")
)

// ConfigValidationError reports every problem found while validating a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("eventbus: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// PermanentError marks a handler failure that must not be retried. The record
// is dead-lettered after the attempt that produced it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent failure"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retry loop stops immediately. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var perm *PermanentError
	if sterrors.As(err, &perm) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return sterrors.As(err, &perm)
}
