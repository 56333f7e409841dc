package workflow

import (
	"context"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// Filter selects records in List. Zero fields match everything; Limit 0 means no limit.
type Filter struct {
	Status   models.WorkflowStatus
	Strategy models.Strategy
	Limit    int
	Offset   int
}

func (f Filter) matches(record models.WorkflowRecord) bool {
	if f.Status != "" && record.Status != f.Status {
		return false
	}

	if f.Strategy != "" && record.Strategy != f.Strategy {
		return false
	}

	return true
}

// Repository is the read side over persisted records.
type Repository struct {
	persistence persistence.Persistence
}

func NewRepository(persistence persistence.Persistence) *Repository {
	return &Repository{
		persistence: persistence,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchCurrent(ctx context.Context, claimID string) (models.WorkflowRecord, error) {
	record, err := r.persistence.Load(ctx, claimID)
	if err != nil {
		return models.WorkflowRecord{}, err
	}

	return *record, nil
}

func (r *Repository) FetchHistory(ctx context.Context, claimID string) ([]models.WorkflowRecord, error) {
	records, err := r.persistence.History(ctx, claimID)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, persistence.NewRecordError("History", claimID, "", persistence.ErrRecordNotFound)
	}

	return deref(records), nil
}

func (r *Repository) FetchAll(ctx context.Context) ([]models.WorkflowRecord, error) {
	records, err := r.persistence.ListAll(ctx)
	if err != nil {
		return make([]models.WorkflowRecord, 0), err
	}

	return deref(records), nil
}

func deref(records []*models.WorkflowRecord) []models.WorkflowRecord {
	out := make([]models.WorkflowRecord, 0, len(records))
	for _, record := range records {
		out = append(out, *record)
	}

	return out
}

// page applies the filter to records already sorted newest first and returns the requested
// window together with the number of matches.
func page(records []models.WorkflowRecord, filter Filter) ([]models.WorkflowRecord, int) {
	matched := make([]models.WorkflowRecord, 0, len(records))

	for _, record := range records {
		if filter.matches(record) {
			matched = append(matched, record)
		}
	}

	total := len(matched)

	if filter.Offset >= total {
		return []models.WorkflowRecord{}, total
	}

	matched = matched[max(filter.Offset, 0):]

	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	return matched, total
}
