package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// RecordRepository handles workflow record database operations. The full record is kept as
// JSONB; the indexed columns mirror the fields used for lookups.
type RecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sql.DB, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{db: db, logger: logger}
}

// Save upserts a record by workflow id.
func (r *RecordRepository) Save(ctx context.Context, record *models.WorkflowRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow record %s: %w", record.WorkflowID, err)
	}

	query := `
		INSERT INTO workflow_records (
			workflow_id
		  , claim_id
		  , status
		  , strategy
		  , record
		  , created_at
		  , updated_at
		  , completed_at
		  , reprocess
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = EXCLUDED.status
		  , strategy = EXCLUDED.strategy
		  , record = EXCLUDED.record
		  , updated_at = EXCLUDED.updated_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.WorkflowID,
		record.ClaimID,
		string(record.Status),
		string(record.Strategy),
		body,
		record.CreatedAt,
		record.UpdatedAt,
		record.CompletedAt,
		record.Reprocess,
	)
	if err != nil {
		return persistence.NewRecordError("Save", record.ClaimID, record.WorkflowID, err)
	}

	return nil
}

// Current returns the newest record of a claim.
func (r *RecordRepository) Current(ctx context.Context, claimID string) (*models.WorkflowRecord, error) {
	query := `
		SELECT record
		FROM workflow_records
		WHERE claim_id = $1
		ORDER BY created_at DESC, workflow_id ASC
		LIMIT 1
	`

	var body []byte

	err := r.db.QueryRowContext(ctx, query, claimID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("Load", claimID, "", persistence.ErrRecordNotFound)
		}

		return nil, persistence.NewRecordError("Load", claimID, "", err)
	}

	return decode(body)
}

// ByClaim returns every record of a claim, newest first.
func (r *RecordRepository) ByClaim(ctx context.Context, claimID string) ([]*models.WorkflowRecord, error) {
	query := `
		SELECT record
		FROM workflow_records
		WHERE claim_id = $1
		ORDER BY created_at DESC, workflow_id ASC
	`

	records, err := r.query(ctx, query, claimID)
	if err != nil {
		return nil, persistence.NewRecordError("History", claimID, "", err)
	}

	if len(records) == 0 {
		return nil, persistence.NewRecordError("History", claimID, "", persistence.ErrRecordNotFound)
	}

	return records, nil
}

// ListCurrent returns the newest record of every claim, newest first.
func (r *RecordRepository) ListCurrent(ctx context.Context) ([]*models.WorkflowRecord, error) {
	query := `
		SELECT record FROM (
			SELECT DISTINCT ON (claim_id) record, created_at, workflow_id
			FROM workflow_records
			ORDER BY claim_id, created_at DESC, workflow_id ASC
		) current
		ORDER BY created_at DESC, workflow_id ASC
	`

	records, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}

	return records, nil
}

func (r *RecordRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.WorkflowRecord, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan workflow record: %w", err)
		}

		record, err := decode(body)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow records: %w", err)
	}

	return records, nil
}

func decode(body []byte) (*models.WorkflowRecord, error) {
	var record models.WorkflowRecord

	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow record: %w", err)
	}

	return &record, nil
}
