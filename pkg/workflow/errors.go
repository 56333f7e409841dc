package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

var (
	// ErrValidation indicates claim data failed required-field or type checks. Never retried.
	ErrValidation = models.ErrValidation

	// ErrTransientDependency indicates a dependency was temporarily unavailable. Retried.
	ErrTransientDependency = models.ErrTransientDependency

	// ErrNotFound indicates no workflow record exists for the claim.
	ErrNotFound = persistence.ErrRecordNotFound

	// ErrDuplicateSubmission indicates the claim is in flight, or already processed and no reprocess was requested.
	ErrDuplicateSubmission = errors.New("claim already submitted")

	// ErrStrategyViolation indicates a stage ran out of dependency order or a workflow would finish
	// without its mandatory stages. Fatal, never retried.
	ErrStrategyViolation = errors.New("strategy violation")

	ErrCancelled       = errors.New("workflow cancelled")
	ErrAlreadyTerminal = errors.New("workflow already finished")
	ErrEngineClosed    = errors.New("engine is shutting down")
)

// StageError wraps the last error returned by a stage.
type StageError struct {
	Stage   string
	Attempt int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed on attempt %d: %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Classify maps an error to the kind recorded on outcomes and records.
func Classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStrategyViolation):
		return models.ErrorKindStrategyViolation
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return models.ErrorKindCancelled
	case IsValidation(err):
		return models.ErrorKindValidation
	case IsTransient(err):
		return models.ErrorKindTransient
	default:
		return models.ErrorKindInternal
	}
}

// IsTransient reports whether err may succeed on retry. Deadline exceeded counts as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientDependency) || errors.Is(err, context.DeadlineExceeded)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateSubmission)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
