package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// RecordRepository stores one JSON file per workflow record under claims/<claim id>/.
type RecordRepository struct {
	root string
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(root string) *RecordRepository {
	return &RecordRepository{root: root}
}

func (rr *RecordRepository) claimDir(claimID string) string {
	return filepath.Join(rr.root, "claims", claimID)
}

// Save writes a record, replacing any previous version with the same workflow id.
func (rr *RecordRepository) Save(_ context.Context, record *models.WorkflowRecord) error {
	if err := persistence.ValidateIdentifier(record.ClaimID); err != nil {
		return persistence.NewRecordError("Save", record.ClaimID, record.WorkflowID, err)
	}

	if err := persistence.ValidateIdentifier(record.WorkflowID); err != nil {
		return persistence.NewRecordError("Save", record.ClaimID, record.WorkflowID, err)
	}

	dir := rr.claimDir(record.ClaimID)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create claim directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow record %s: %w", record.WorkflowID, err)
	}

	// Write then rename so readers never observe a partially written record.
	tmp, err := os.CreateTemp(dir, record.WorkflowID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write workflow record %s: %w", record.WorkflowID, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close workflow record %s: %w", record.WorkflowID, err)
	}

	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to chmod workflow record %s: %w", record.WorkflowID, err)
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, record.WorkflowID+".json"))
}

// ByClaim returns every record of a claim, newest first.
func (rr *RecordRepository) ByClaim(_ context.Context, claimID string) ([]*models.WorkflowRecord, error) {
	if err := persistence.ValidateIdentifier(claimID); err != nil {
		return nil, persistence.NewRecordError("History", claimID, "", err)
	}

	dir := rr.claimDir(claimID)

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}

	records := make([]*models.WorkflowRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		record, err := rr.read(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, persistence.NewRecordError("History", claimID, "", persistence.ErrRecordNotFound)
	}

	persistence.SortNewestFirst(records)

	return records, nil
}

// Current returns the newest record of a claim.
func (rr *RecordRepository) Current(ctx context.Context, claimID string) (*models.WorkflowRecord, error) {
	records, err := rr.ByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	return records[0], nil
}

// ListCurrent returns the newest record of every claim, newest first.
func (rr *RecordRepository) ListCurrent(ctx context.Context) ([]*models.WorkflowRecord, error) {
	entries, err := os.ReadDir(filepath.Join(rr.root, "claims"))
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*models.WorkflowRecord, 0), nil
		}

		return nil, fmt.Errorf("failed to list claims: %w", err)
	}

	records := make([]*models.WorkflowRecord, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		record, err := rr.Current(ctx, entry.Name())
		if err != nil {
			if persistence.IsRecordNotFound(err) {
				continue
			}

			return nil, err
		}

		records = append(records, record)
	}

	persistence.SortNewestFirst(records)

	return records, nil
}

func (rr *RecordRepository) read(filePath string) (*models.WorkflowRecord, error) {
	body, err := os.ReadFile(filePath) // #nosec G304 -- path is built from validated identifiers
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow record %s: %w", filePath, err)
	}

	var record models.WorkflowRecord

	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow record %s: %w", filePath, err)
	}

	return &record, nil
}
