// Package persistence provides the storage abstraction for claim workflow records.
package persistence

import (
	"context"

	"github.com/dukex/claimflow/pkg/models"
)

// Persistence stores workflow records. A claim may have several records, one per submission;
// the one with the latest CreatedAt is the claim's current record.
type Persistence interface {
	// Load returns the current record for a claim or ErrRecordNotFound.
	Load(ctx context.Context, claimID string) (*models.WorkflowRecord, error)
	// Save inserts or replaces the record identified by its WorkflowID.
	Save(ctx context.Context, record *models.WorkflowRecord) error
	// ListAll returns the current record of every claim, newest first.
	ListAll(ctx context.Context) ([]*models.WorkflowRecord, error)
	// History returns every record of a claim, newest first.
	History(ctx context.Context, claimID string) ([]*models.WorkflowRecord, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
