package stages_test

import (
	"context"
	"testing"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int {
	return &v
}

func TestAssess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		claim    models.ClaimContext
		score    int
		category models.RiskCategory
		reasons  []string
	}{
		{
			name:     "ordinary claim keeps the base score",
			claim:    models.ClaimContext{Amount: 8500, CustomerTenureDays: intPtr(400)},
			score:    3,
			category: models.RiskLow,
			reasons:  []string{},
		},
		{
			name:     "high amount",
			claim:    models.ClaimContext{Amount: 50000},
			score:    6,
			category: models.RiskMedium,
			reasons:  []string{stages.ReasonHighAmount},
		},
		{
			name:     "new customer with high amount",
			claim:    models.ClaimContext{Amount: 30000, CustomerTenureDays: intPtr(30)},
			score:    9,
			category: models.RiskHigh,
			reasons:  []string{stages.ReasonHighAmount, stages.ReasonNewCustomer},
		},
		{
			name:     "unknown tenure is not a new customer",
			claim:    models.ClaimContext{Amount: 15000},
			score:    3,
			category: models.RiskLow,
			reasons:  []string{},
		},
		{
			name:     "frequent claimant",
			claim:    models.ClaimContext{Amount: 500, PreviousClaimsCount: 3},
			score:    5,
			category: models.RiskMedium,
			reasons:  []string{stages.ReasonFrequentClaims},
		},
		{
			name:     "test amount",
			claim:    models.ClaimContext{Amount: 1},
			score:    5,
			category: models.RiskMedium,
			reasons:  []string{stages.ReasonTestClaim},
		},
		{
			name: "incomplete data",
			claim: models.ClaimContext{
				Amount:     500,
				Validation: &models.ValidationResult{Valid: true, Warnings: []string{"missing_date"}},
			},
			score:    5,
			category: models.RiskMedium,
			reasons:  []string{stages.ReasonIncompleteData},
		},
		{
			name: "everything at once is clamped",
			claim: models.ClaimContext{
				Amount:              30000,
				CustomerTenureDays:  intPtr(10),
				PreviousClaimsCount: 5,
				Validation:          &models.ValidationResult{Warnings: []string{"missing_date"}},
			},
			score:    10,
			category: models.RiskHigh,
			reasons: []string{
				stages.ReasonHighAmount,
				stages.ReasonNewCustomer,
				stages.ReasonFrequentClaims,
				stages.ReasonIncompleteData,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			risk := stages.Assess(tt.claim)
			assert.Equal(t, tt.score, risk.Score)
			assert.Equal(t, tt.category, risk.Category)
			assert.Equal(t, tt.reasons, risk.Reasons)
			assert.False(t, risk.Defaulted)
		})
	}
}

func TestRiskStage_Execute(t *testing.T) {
	t.Parallel()

	stage := stages.NewRiskStage()

	result, err := stage.Execute(context.Background(), models.ClaimContext{ClaimID: "CLM-1", Amount: 50000})
	require.NoError(t, err)
	require.NotNil(t, result.Claim.Risk)
	assert.Equal(t, models.RiskMedium, result.Claim.Risk.Category)
	assert.Equal(t, 6, result.Payload["score"])
	assert.Equal(t, "MEDIUM", result.Payload["category"])
	assert.Equal(t, stages.NameRiskAssessment, stage.Name())
}

func TestDefaultRisk(t *testing.T) {
	t.Parallel()

	claim := stages.DefaultRisk(models.ClaimContext{ClaimID: "CLM-1"})
	require.NotNil(t, claim.Risk)
	assert.Equal(t, 1, claim.Risk.Score)
	assert.Equal(t, models.RiskLow, claim.Risk.Category)
	assert.True(t, claim.Risk.Defaulted)
}
