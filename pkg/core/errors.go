// Package core provides the learnfeed Engine: the orchestrator that combines
// the personalization models into one feed and one review schedule per learner.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrValidation indicates malformed input. Nothing is applied when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that referenced content is not in the catalog.
	ErrNotFound = errors.New("content not found")

	// ErrInsufficientData indicates that there is not enough evidence yet to answer.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrStoreUnavailable indicates that a state store call failed.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates a call on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// EngineError wraps errors with operation context.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "TrackInteraction",
//	    Err: ErrValidation,
//	}
//	// Error() returns: "learnfeed: TrackInteraction: validation failed"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "learnfeed: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("learnfeed: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("GenerateFeed", err)
//	}
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}

// validationError marks err as a validation failure while keeping it matchable.
func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// storeError marks err as a state store failure while keeping it matchable.
func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
