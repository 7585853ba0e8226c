package alerts

import "errors"

var (
	// ErrInvalidBounds is returned when lower bound is not strictly below upper bound
	ErrInvalidBounds = errors.New("invalid bounds")
	// ErrInvalidAlert is returned for definitions missing an id or stock name
	ErrInvalidAlert = errors.New("invalid alert")
	// ErrNotFound is returned for operations on an unknown alert id
	ErrNotFound = errors.New("alert not found")
	// ErrPersistence wraps sink write failures
	ErrPersistence = errors.New("persistence failure")
	// ErrShuttingDown is returned when ticks are submitted after shutdown began
	ErrShuttingDown = errors.New("evaluator shutting down")
)
