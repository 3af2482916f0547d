package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrOperationFailed is matched by every business-level failure reported
	// by an actor.
	ErrOperationFailed = errors.New("operation failed")
	// ErrSelfRequest is returned when a handler asks its own actor, which
	// would never complete.
	ErrSelfRequest = errors.New("actor cannot ask itself")
	// ErrNoHandler is wrapped when no handler is registered for a message type.
	ErrNoHandler = errors.New("no handler registered")
)

// OperationError is an actor-level failure with a human readable reason.
type OperationError struct {
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil && e.Reason == "" {
		return fmt.Sprintf("%s: %s", ErrOperationFailed, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrOperationFailed, e.Reason)
}

func (e *OperationError) Is(target error) bool { return target == ErrOperationFailed }

func (e *OperationError) Unwrap() error { return e.Err }

// OperationFailed creates an [OperationError] with a formatted reason.
func OperationFailed(format string, args ...any) error {
	return &OperationError{Reason: fmt.Sprintf(format, args...)}
}

// AsOperationError converts err into an *OperationError unless it already is
// one or is nil.
func AsOperationError(err error) error {
	if err == nil {
		return nil
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return err
	}
	return &OperationError{Reason: err.Error(), Err: err}
}
