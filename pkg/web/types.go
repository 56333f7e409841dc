package web

import (
	"time"

	"github.com/dukex/claimflow/pkg/models"
)

// SubmitClaimRequest is the FNOL payload accepted by POST /claims. Content rules such as
// required policy fields are enforced by the intake stage; only the envelope is checked here.
type SubmitClaimRequest struct {
	ClaimID             string     `json:"claim_id"                        validate:"required,max=128"`
	Type                string     `json:"type"`
	Date                string     `json:"date,omitempty"`
	Amount              float64    `json:"amount"                          validate:"gte=0"`
	Description         string     `json:"description"`
	CustomerID          string     `json:"customer_id"`
	PolicyNumber        string     `json:"policy_number"`
	IncidentLocation    string     `json:"incident_location,omitempty"`
	PoliceReport        string     `json:"police_report,omitempty"`
	InjuriesReported    bool       `json:"injuries_reported"`
	OtherPartyInvolved  bool       `json:"other_party_involved"`
	OtherPartiesCount   int        `json:"other_parties_count,omitempty"   validate:"gte=0"`
	CustomerTenureDays  *int       `json:"customer_tenure_days,omitempty"  validate:"omitempty,gte=0"`
	PreviousClaimsCount int        `json:"previous_claims_count"           validate:"gte=0"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
}

// ToClaim builds the claim context, stamping now when the submission time is absent.
func (r SubmitClaimRequest) ToClaim(now time.Time) models.ClaimContext {
	submitted := now
	if r.SubmittedAt != nil {
		submitted = *r.SubmittedAt
	}

	return models.ClaimContext{
		ClaimID:             r.ClaimID,
		Type:                r.Type,
		Date:                r.Date,
		Amount:              r.Amount,
		Description:         r.Description,
		CustomerID:          r.CustomerID,
		PolicyNumber:        r.PolicyNumber,
		IncidentLocation:    r.IncidentLocation,
		PoliceReport:        r.PoliceReport,
		InjuriesReported:    r.InjuriesReported,
		OtherPartyInvolved:  r.OtherPartyInvolved,
		OtherPartiesCount:   r.OtherPartiesCount,
		CustomerTenureDays:  r.CustomerTenureDays,
		PreviousClaimsCount: r.PreviousClaimsCount,
		SubmittedAt:         submitted,
	}
}

// SubmitClaimResponse acknowledges an accepted submission.
type SubmitClaimResponse struct {
	ClaimID    string                `json:"claim_id"`
	WorkflowID string                `json:"workflow_id"`
	Status     models.WorkflowStatus `json:"status"`
	Strategy   models.Strategy       `json:"strategy"`
	TotalSteps int                   `json:"total_steps"`
	StatusURL  string                `json:"status_url"`
}

// ListClaimsRequest holds the query parameters of GET /claims.
type ListClaimsRequest struct {
	Status   string `query:"status"   validate:"omitempty,oneof=PENDING IN_PROGRESS COMPLETED FAILED"`
	Strategy string `query:"strategy" validate:"omitempty,oneof=fast_track parallel sequential"`
	Limit    int    `query:"limit"    validate:"gte=0,lte=500"`
	Offset   int    `query:"offset"   validate:"gte=0"`
}

// ClaimSummary is one row of GET /claims.
type ClaimSummary struct {
	ClaimID      string                `json:"claim_id"`
	WorkflowID   string                `json:"workflow_id"`
	Status       models.WorkflowStatus `json:"status"`
	Strategy     models.Strategy       `json:"strategy"`
	CurrentStage string                `json:"current_stage,omitempty"`
	Progress     float64               `json:"progress"`
	Reprocess    bool                  `json:"reprocess,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// TransformClaimSummary reduces a record to its list row.
func TransformClaimSummary(record models.WorkflowRecord) ClaimSummary {
	return ClaimSummary{
		ClaimID:      record.ClaimID,
		WorkflowID:   record.WorkflowID,
		Status:       record.Status,
		Strategy:     record.Strategy,
		CurrentStage: record.CurrentStage,
		Progress:     record.Progress,
		Reprocess:    record.Reprocess,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

// MetricsResponse is the JSON aggregate served by GET /metrics.
type MetricsResponse struct {
	models.AggregateMetrics

	SuccessRate              float64 `json:"success_rate"`
	AverageProcessingSeconds float64 `json:"average_processing_seconds"`
}

func newMetricsResponse(m models.AggregateMetrics) MetricsResponse {
	return MetricsResponse{
		AggregateMetrics:         m,
		SuccessRate:              m.SuccessRate(),
		AverageProcessingSeconds: m.AverageProcessingTime.Seconds(),
	}
}
