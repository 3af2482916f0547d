package runtime

import (
	"errors"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/core/envelope"
)

var (
	// Lifecycle errors
	ErrNotInitialized     = errors.New("runtime not initialized")
	ErrAlreadyInitialized = errors.New("runtime already initialized")
	ErrAlreadyShutdown    = errors.New("runtime already shut down")

	// Submission errors, returned synchronously
	ErrMalformedMessage = envelope.ErrMalformedMessage
	ErrBackpressure     = errors.New("actor inbox is full")

	// Callback errors
	ErrOperationFailed = actor.ErrOperationFailed
	ErrCancelled       = errors.New("cancelled")

	// ErrInternalRegistry reports a registry inconsistency (duplicate id or a
	// completion for an unknown id). It is logged and never reaches a callback
	// twice.
	ErrInternalRegistry = errors.New("internal callback registry error")
)

// Kind is the stable, wire-visible name of an error class.
type Kind string

const (
	KindNone               Kind = ""
	KindNotInitialized     Kind = "NotInitialized"
	KindAlreadyInitialized Kind = "AlreadyInitialized"
	KindAlreadyShutdown    Kind = "AlreadyShutdown"
	KindMalformedMessage   Kind = "MalformedMessage"
	KindBackpressure       Kind = "Backpressure"
	KindOperationFailed    Kind = "OperationFailed"
	KindCancelled          Kind = "Cancelled"
	KindInternal           Kind = "InternalRegistryError"
)

func (k Kind) String() string { return string(k) }

// KindOf classifies err. An actor failure is OperationFailed whatever it
// wraps, except that a failure caused by a cancellation reports Cancelled.
func KindOf(err error) Kind {
	var oe *actor.OperationError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.As(err, &oe):
		return KindOperationFailed
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrAlreadyInitialized):
		return KindAlreadyInitialized
	case errors.Is(err, ErrAlreadyShutdown):
		return KindAlreadyShutdown
	case errors.Is(err, ErrMalformedMessage):
		return KindMalformedMessage
	case errors.Is(err, ErrBackpressure):
		return KindBackpressure
	case errors.Is(err, ErrInternalRegistry):
		return KindInternal
	default:
		return KindOperationFailed
	}
}
