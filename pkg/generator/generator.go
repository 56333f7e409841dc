// Package generator provides the text-generation boundary used by the documentation stage.
package generator

import (
	"context"
	"strconv"

	"github.com/dukex/claimflow/pkg/models"
)

// Task selects which document a generator should produce.
type Task string

const (
	TaskSummary Task = "summary"
	TaskReport  Task = "report"
)

// Generator produces claim documentation text. Implementations return errors wrapping
// models.ErrTransientDependency for failures worth retrying.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt PromptContext) (string, error)
}

// PromptContext is the flattened view of a claim and its processing results handed to a generator.
type PromptContext struct {
	Task                Task    `json:"task"`
	ClaimID             string  `json:"claim_id"`
	ClaimType           string  `json:"claim_type"`
	Amount              float64 `json:"amount"`
	Date                string  `json:"date"`
	Description         string  `json:"description"`
	Location            string  `json:"location"`
	CustomerID          string  `json:"customer_id"`
	PolicyNumber        string  `json:"policy_number"`
	SubmittedAt         string  `json:"submitted_at"`
	InjuriesReported    bool    `json:"injuries_reported"`
	PoliceReport        string  `json:"police_report"`
	OtherPartyInvolved  bool    `json:"other_party_involved"`
	CustomerTenure      string  `json:"customer_tenure"`
	PreviousClaimsCount int     `json:"previous_claims_count"`

	ValidationStatus string   `json:"validation_status"`
	RiskScore        int      `json:"risk_score"`
	RiskLevel        string   `json:"risk_level"`
	RiskReasons      []string `json:"risk_reasons"`
	Priority         string   `json:"priority"`
	AdjusterTier     string   `json:"adjuster_tier"`
	ProcessingPath   string   `json:"processing_path"`
}

const notAvailable = "N/A"

// NewPromptContext flattens a claim for the given task. Missing sections render as N/A.
func NewPromptContext(task Task, claim models.ClaimContext) PromptContext {
	p := PromptContext{
		Task:                task,
		ClaimID:             claim.ClaimID,
		ClaimType:           claim.Type,
		Amount:              claim.Amount,
		Date:                orNA(claim.Date),
		Description:         claim.Description,
		Location:            orNA(claim.IncidentLocation),
		CustomerID:          claim.CustomerID,
		PolicyNumber:        claim.PolicyNumber,
		InjuriesReported:    claim.InjuriesReported,
		PoliceReport:        orNA(claim.PoliceReport),
		OtherPartyInvolved:  claim.OtherPartyInvolved,
		CustomerTenure:      notAvailable,
		PreviousClaimsCount: claim.PreviousClaimsCount,
		ValidationStatus:    notAvailable,
		RiskLevel:           notAvailable,
		Priority:            notAvailable,
		AdjusterTier:        notAvailable,
		ProcessingPath:      notAvailable,
	}

	if !claim.SubmittedAt.IsZero() {
		p.SubmittedAt = claim.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	if claim.CustomerTenureDays != nil {
		p.CustomerTenure = strconv.Itoa(*claim.CustomerTenureDays) + " days"
	}

	if claim.Validation != nil {
		p.ValidationStatus = "Invalid"
		if claim.Validation.Valid {
			p.ValidationStatus = "Valid"
		}

		if claim.Validation.NormalizedDate != "" {
			p.Date = claim.Validation.NormalizedDate
		}
	}

	if claim.Risk != nil {
		p.RiskScore = claim.Risk.Score
		p.RiskLevel = string(claim.Risk.Category)
		p.RiskReasons = claim.Risk.Reasons
	}

	if claim.Routing != nil {
		p.Priority = string(claim.Routing.Priority)
		p.AdjusterTier = string(claim.Routing.AdjusterTier)
		p.ProcessingPath = claim.Routing.ProcessingPath
	}

	return p
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}

	return s
}
