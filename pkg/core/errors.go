package core

import (
	"errors"
	"fmt"
)

// Predefined errors forming the engine's error taxonomy.
var (
	// ErrValidation indicates malformed entity construction: importance or
	// strength out of range, wrong embedding dimensionality, unknown phase.
	// Rejected immediately, never persisted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that an operation addressed a record id that
	// does not exist. Surfaced to the caller, not retried.
	ErrNotFound = errors.New("memory not found")

	// ErrCollaborator indicates an embedding or summarization provider
	// failure. Recoverable locally: decay still applies, promotion is
	// skipped and the failure lands in the batch error list.
	ErrCollaborator = errors.New("collaborator failed")

	// ErrRepository indicates that a storage operation failed.
	ErrRepository = errors.New("repository operation failed")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{Op: "Reinforce", Err: ErrValidation}
//	// Error() returns: "tiermem: Reinforce: validation failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message in the form "tiermem: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("tiermem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
// If err is nil, it returns nil, so call sites can wrap unconditionally.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}
