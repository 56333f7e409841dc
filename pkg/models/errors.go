package models

import (
	"errors"
	"strings"
)

// Stage failure classes shared by stages, the text generator and the engine.
var (
	// ErrValidation indicates claim data failed required-field or type checks. Never retried.
	ErrValidation = errors.New("claim validation failed")

	// ErrTransientDependency indicates a dependency was temporarily unavailable or timed out.
	ErrTransientDependency = errors.New("transient dependency failure")
)

// ValidationError carries the individual validation codes, e.g. missing_policy_number.
type ValidationError struct {
	Codes []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Codes, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransientError wraps a dependency failure so it is retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransientDependency
}

// NewTransientError marks err as a transient dependency failure.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}
