package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrPolicy     = errors.New("move not allowed")
	ErrInvariant  = errors.New("position invariant violated")
)

// ValidationError is a malformed request: unknown column, cross-board
// reference, out-of-range position. Never retried.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return "validation error: " + e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError means the task changed on the server after the client last
// saw it. It carries the canonical state so the caller can re-render without
// another round trip.
type ConflictError struct {
	Task             Task       `json:"task"`
	Board            BoardState `json:"board"`
	TimeDifferenceMs int64      `json:"time_difference_ms"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: task %d was modified %d ms after the client's view", e.Task.ID, e.TimeDifferenceMs)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PolicyError is a capacity or policy rejection from the constraint rules.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return "move not allowed: " + e.Reason }

func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }
