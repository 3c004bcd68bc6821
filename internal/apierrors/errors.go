// Package apierrors defines the transport-independent error taxonomy
// shared by the JSON and RPC transports.
package apierrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the core can return.
type Kind int

const (
	InvalidInput Kind = iota
	ModelNotFound
	ModelNotDeployed
	StorageUnavailable
	ModelLoadFailed
	InternalInferenceError
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case ModelNotFound:
		return "ModelNotFound"
	case ModelNotDeployed:
		return "ModelNotDeployed"
	case StorageUnavailable:
		return "StorageUnavailable"
	case ModelLoadFailed:
		return "ModelLoadFailed"
	case InternalInferenceError:
		return "InternalInferenceError"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the value type every layer of the core returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind with a message only.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the Kind of err, defaulting to InternalInferenceError
// for any error not produced by this package. A context cancellation or
// deadline anywhere in the chain takes precedence: the caller went away,
// whatever layer happened to observe it first.
func KindOf(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalInferenceError
}
