package stages

import (
	"context"

	"github.com/dukex/claimflow/pkg/models"
)

const (
	baseRiskScore = 3
	minRiskScore  = 1
	maxRiskScore  = 10

	highAmount        = 20000
	newCustomerAmount = 10000
	newCustomerDays   = 90
	frequentClaimsMin = 2
	testClaimAmount   = 1
)

// Risk reasons.
const (
	ReasonHighAmount     = "High claim amount"
	ReasonNewCustomer    = "New customer with high claim"
	ReasonFrequentClaims = "Multiple previous claims"
	ReasonTestClaim      = "Suspicious test claim"
	ReasonIncompleteData = "Incomplete data"
)

// RiskStage scores a validated claim from 1 to 10 and derives its risk category.
type RiskStage struct{}

func NewRiskStage() *RiskStage {
	return &RiskStage{}
}

func (s *RiskStage) Name() string {
	return NameRiskAssessment
}

func (s *RiskStage) Execute(ctx context.Context, claim models.ClaimContext) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	claim.Risk = Assess(claim)

	return Result{
		Claim: claim,
		Payload: map[string]any{
			"score":    claim.Risk.Score,
			"category": string(claim.Risk.Category),
			"reasons":  claim.Risk.Reasons,
		},
	}, nil
}

// Assess applies the scoring rules to a claim.
func Assess(claim models.ClaimContext) *models.RiskAssessment {
	score := baseRiskScore
	reasons := []string{}

	if claim.Amount > highAmount {
		score += 3
		reasons = append(reasons, ReasonHighAmount)
	}

	if claim.CustomerTenureDays != nil && *claim.CustomerTenureDays < newCustomerDays && claim.Amount > newCustomerAmount {
		score += 3
		reasons = append(reasons, ReasonNewCustomer)
	}

	if claim.PreviousClaimsCount > frequentClaimsMin {
		score += 2
		reasons = append(reasons, ReasonFrequentClaims)
	}

	if claim.Amount <= testClaimAmount {
		score += 2
		reasons = append(reasons, ReasonTestClaim)
	}

	if claim.Validation != nil && (len(claim.Validation.Errors) > 0 || len(claim.Validation.Warnings) > 0) {
		score += 2
		reasons = append(reasons, ReasonIncompleteData)
	}

	score = min(max(score, minRiskScore), maxRiskScore)

	return &models.RiskAssessment{
		Score:    score,
		Category: models.CategoryForScore(score),
		Reasons:  reasons,
	}
}

// DefaultRisk writes the trivial LOW assessment used when risk scoring is collapsed.
func DefaultRisk(claim models.ClaimContext) models.ClaimContext {
	claim.Risk = &models.RiskAssessment{
		Score:     minRiskScore,
		Category:  models.RiskLow,
		Defaulted: true,
	}

	return claim
}
