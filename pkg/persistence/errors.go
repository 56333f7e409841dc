package persistence

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/claimflow/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRecordNotFound indicates no workflow record exists for the given claim.
	ErrRecordNotFound = errors.New("workflow record not found")

	// ErrInvalidIdentifier indicates a claim or workflow id that cannot be stored safely.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// RecordError wraps record-related errors with additional context.
type RecordError struct {
	Op         string // Operation being performed (e.g., "Load", "Save")
	ClaimID    string
	WorkflowID string
	Err        error
}

func (e *RecordError) Error() string {
	target := "claim " + e.ClaimID
	if e.WorkflowID != "" {
		target = fmt.Sprintf("%s (workflow %s)", target, e.WorkflowID)
	}

	return fmt.Sprintf("%s operation failed for %s: %v", e.Op, target, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRecordError creates a new record error with context.
func NewRecordError(op, claimID, workflowID string, err error) *RecordError {
	return &RecordError{
		Op:         op,
		ClaimID:    claimID,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsRecordNotFound checks if an error indicates a record was not found.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// ValidateIdentifier rejects ids that are empty or could escape a storage namespace.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\:*?\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}

	return nil
}

// SortNewestFirst orders records by CreatedAt descending, then WorkflowID for stability.
func SortNewestFirst(records []*models.WorkflowRecord) {
	slices.SortStableFunc(records, func(a, b *models.WorkflowRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.WorkflowID, b.WorkflowID)
	})
}
