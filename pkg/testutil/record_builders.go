// Package testutil provides test data builders for claims and workflow records.
package testutil

import (
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestClaim creates a valid parallel-strategy property claim that can be overridden.
func CreateTestClaim(overrides ...func(*models.ClaimContext)) models.ClaimContext {
	tenure := 400

	claim := models.ClaimContext{
		ClaimID:            "CLM-" + uuid.NewString()[:8],
		Type:               "property_damage",
		Date:               "2024-01-14",
		Amount:             8500,
		Description:        "Water damage in kitchen from burst pipe",
		CustomerID:         "CUST-12345",
		PolicyNumber:       "POL-HO-987654",
		IncidentLocation:   "Springfield",
		CustomerTenureDays: &tenure,
		SubmittedAt:        time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}

	for _, override := range overrides {
		override(&claim)
	}

	return claim
}

// CreateTestRecord creates a completed workflow record with one intake outcome that can be
// overridden.
func CreateTestRecord(overrides ...func(*models.WorkflowRecord)) *models.WorkflowRecord {
	created := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	claim := CreateTestClaim()

	record := &models.WorkflowRecord{
		WorkflowID: uuid.NewString(),
		ClaimID:    claim.ClaimID,
		Status:     models.WorkflowStatusCompleted,
		Strategy:   models.StrategyParallel,
		Claim:      claim,
		Outcomes: []models.StageOutcome{
			{
				Stage:     "intake",
				Status:    models.StageStatusCompleted,
				Mandatory: true,
				Attempts:  1,
				Payload:   map[string]any{"valid": true},
				StartedAt: created,
				EndedAt:   created,
			},
		},
		CurrentStep: 1,
		TotalSteps:  4,
		Progress:    0.25,
		CreatedAt:   created,
		UpdatedAt:   created,
	}

	for _, override := range overrides {
		override(record)
	}

	return record
}

// WithIDs sets the claim and workflow ids of a record and of its claim.
func WithIDs(claimID, workflowID string) func(*models.WorkflowRecord) {
	return func(r *models.WorkflowRecord) {
		r.ClaimID = claimID
		r.WorkflowID = workflowID
		r.Claim.ClaimID = claimID
	}
}

// CreatedAt sets the creation and update time of a record.
func CreatedAt(at time.Time) func(*models.WorkflowRecord) {
	return func(r *models.WorkflowRecord) {
		r.CreatedAt = at
		r.UpdatedAt = at
	}
}

func WithStatus(status models.WorkflowStatus) func(*models.WorkflowRecord) {
	return func(r *models.WorkflowRecord) {
		r.Status = status
	}
}

func WithStrategy(strategy models.Strategy) func(*models.WorkflowRecord) {
	return func(r *models.WorkflowRecord) {
		r.Strategy = strategy
	}
}

// WithClaimType sets the claim type and amount of a record's claim.
func WithClaimType(claimType string, amount float64) func(*models.ClaimContext) {
	return func(c *models.ClaimContext) {
		c.Type = claimType
		c.Amount = amount
	}
}
