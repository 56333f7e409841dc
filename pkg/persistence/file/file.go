// Package file provides file-based persistence for workflow records.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/claimflow/pkg/models"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root       string
	recordRepo *RecordRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:       cleanRoot,
		recordRepo: NewRecordRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Load(ctx context.Context, claimID string) (*models.WorkflowRecord, error) {
	return fp.recordRepo.Current(ctx, claimID)
}

func (fp *Persistence) Save(ctx context.Context, record *models.WorkflowRecord) error {
	return fp.recordRepo.Save(ctx, record)
}

func (fp *Persistence) ListAll(ctx context.Context) ([]*models.WorkflowRecord, error) {
	return fp.recordRepo.ListCurrent(ctx)
}

func (fp *Persistence) History(ctx context.Context, claimID string) ([]*models.WorkflowRecord, error) {
	return fp.recordRepo.ByClaim(ctx, claimID)
}
