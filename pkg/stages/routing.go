package stages

import (
	"context"
	"errors"
	"slices"

	"github.com/dukex/claimflow/pkg/models"
)

// ErrRiskUnavailable is returned when routing runs without any risk category, authoritative or provisional.
var ErrRiskUnavailable = errors.New("routing requires a risk category")

var urgentClaimTypes = []string{"liability", "medical_payment"}

// RoutingStage assigns priority and adjuster tier from the claim and its risk category.
type RoutingStage struct {
	preliminary models.RiskCategory
}

// NewRoutingStage returns a routing stage that assumes the preliminary category when it runs
// ahead of risk assessment.
func NewRoutingStage(preliminary models.RiskCategory) *RoutingStage {
	if preliminary == "" {
		preliminary = models.RiskMedium
	}

	return &RoutingStage{preliminary: preliminary}
}

func (s *RoutingStage) Name() string {
	return NameRouting
}

func (s *RoutingStage) Execute(ctx context.Context, claim models.ClaimContext) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if claim.Risk == nil {
		return Result{}, ErrRiskUnavailable
	}

	claim.Routing = Route(claim, claim.Risk.Category)

	return Result{
		Claim: claim,
		Payload: map[string]any{
			"priority":        string(claim.Routing.Priority),
			"adjuster_tier":   string(claim.Routing.AdjusterTier),
			"risk_basis":      string(claim.Routing.RiskBasis),
			"processing_path": claim.Routing.ProcessingPath,
		},
	}, nil
}

// Speculate gives the claim a provisional risk section when the assessment has not landed yet.
func (s *RoutingStage) Speculate(claim models.ClaimContext) models.ClaimContext {
	if claim.Risk == nil {
		claim.Risk = &models.RiskAssessment{
			Score:    provisionalScore(s.preliminary),
			Category: s.preliminary,
		}
	}

	return claim
}

// Consistent reports whether the routing decision was computed from the recorded risk category.
func (s *RoutingStage) Consistent(claim models.ClaimContext) bool {
	if claim.Routing == nil || claim.Risk == nil {
		return false
	}

	return claim.Routing.RiskBasis == claim.Risk.Category
}

// Route applies the routing rules for the given risk category.
func Route(claim models.ClaimContext, category models.RiskCategory) *models.RoutingDecision {
	decision := &models.RoutingDecision{
		Priority:     models.PriorityNormal,
		AdjusterTier: models.AdjusterStandard,
		RiskBasis:    category,
	}

	switch {
	case claim.InjuriesReported || slices.Contains(urgentClaimTypes, claim.Type):
		decision.Priority = models.PriorityUrgent
		decision.AdjusterTier = models.AdjusterSenior
	case category == models.RiskHigh:
		decision.Priority = models.PriorityUrgent
		decision.AdjusterTier = models.AdjusterFraudSpecialist
	}

	if claim.Type == "auto_glass" && category == models.RiskLow {
		decision.Priority = models.PriorityLow
		decision.AdjusterTier = models.AdjusterStandard
	}

	decision.ProcessingPath = string(decision.Priority) + "/" + string(decision.AdjusterTier)

	return decision
}

func provisionalScore(category models.RiskCategory) int {
	switch category {
	case models.RiskLow:
		return 1
	case models.RiskMedium:
		return 5
	case models.RiskHigh:
		return 7
	default:
		return 5
	}
}
