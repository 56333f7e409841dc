// Package memory provides an in-process persistence backend, used for tests and memory:// URLs.
package memory

import (
	"context"
	"sync"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// Persistence keeps deep copies of records keyed by claim id and workflow id.
type Persistence struct {
	mu      sync.RWMutex
	records map[string]map[string]models.WorkflowRecord
}

func NewPersistence() *Persistence {
	return &Persistence{records: make(map[string]map[string]models.WorkflowRecord)}
}

func (p *Persistence) Load(ctx context.Context, claimID string) (*models.WorkflowRecord, error) {
	history, err := p.History(ctx, claimID)
	if err != nil {
		return nil, err
	}

	return history[0], nil
}

func (p *Persistence) Save(_ context.Context, record *models.WorkflowRecord) error {
	if err := persistence.ValidateIdentifier(record.ClaimID); err != nil {
		return persistence.NewRecordError("Save", record.ClaimID, record.WorkflowID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	byWorkflow, ok := p.records[record.ClaimID]
	if !ok {
		byWorkflow = make(map[string]models.WorkflowRecord)
		p.records[record.ClaimID] = byWorkflow
	}

	byWorkflow[record.WorkflowID] = record.Clone()

	return nil
}

func (p *Persistence) ListAll(_ context.Context) ([]*models.WorkflowRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.WorkflowRecord, 0, len(p.records))

	for _, byWorkflow := range p.records {
		var current *models.WorkflowRecord

		for _, record := range byWorkflow {
			if current == nil || record.CreatedAt.After(current.CreatedAt) {
				clone := record.Clone()
				current = &clone
			}
		}

		if current != nil {
			out = append(out, current)
		}
	}

	persistence.SortNewestFirst(out)

	return out, nil
}

func (p *Persistence) History(_ context.Context, claimID string) ([]*models.WorkflowRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byWorkflow := p.records[claimID]
	if len(byWorkflow) == 0 {
		return nil, persistence.NewRecordError("History", claimID, "", persistence.ErrRecordNotFound)
	}

	out := make([]*models.WorkflowRecord, 0, len(byWorkflow))

	for _, record := range byWorkflow {
		clone := record.Clone()
		out = append(out, &clone)
	}

	persistence.SortNewestFirst(out)

	return out, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
