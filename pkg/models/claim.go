// Package models defines the claim and workflow domain models shared by the engine, the stages and the stores.
package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/go-cmp/cmp"
)

// RiskCategory is the coarse risk bucket derived from the risk score.
type RiskCategory string

const (
	RiskLow    RiskCategory = "LOW"
	RiskMedium RiskCategory = "MEDIUM"
	RiskHigh   RiskCategory = "HIGH"
)

// CategoryForScore maps a 1-10 risk score onto its category.
func CategoryForScore(score int) RiskCategory {
	switch {
	case score <= 3:
		return RiskLow
	case score <= 6:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Priority is the handling priority assigned by routing.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// AdjusterTier is the adjuster pool a claim is routed to.
type AdjusterTier string

const (
	AdjusterStandard        AdjusterTier = "standard"
	AdjusterSenior          AdjusterTier = "senior"
	AdjusterFraudSpecialist AdjusterTier = "fraud_specialist"
)

// Section names used in the audit trail.
const (
	SectionValidation    = "validation"
	SectionRisk          = "risk"
	SectionRouting       = "routing"
	SectionDocumentation = "documentation"
)

// ValidationResult is written by the intake stage.
type ValidationResult struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	NormalizedDate string   `json:"normalized_date,omitempty"`
}

// RiskAssessment is written by the risk assessment stage, or defaulted by the engine on fast-track.
type RiskAssessment struct {
	Score     int          `json:"score"`
	Category  RiskCategory `json:"category"`
	Reasons   []string     `json:"reasons,omitempty"`
	Defaulted bool         `json:"defaulted,omitempty"`
}

// RoutingDecision is written by the routing stage. RiskBasis records the category the
// decision was computed from so it can be checked against the authoritative assessment.
type RoutingDecision struct {
	Priority       Priority     `json:"priority"`
	AdjusterTier   AdjusterTier `json:"adjuster_tier"`
	RiskBasis      RiskCategory `json:"risk_basis"`
	ProcessingPath string       `json:"processing_path"`
}

// Documentation is written by the documentation stage.
type Documentation struct {
	Summary     string `json:"summary"`
	Report      string `json:"report,omitempty"`
	GeneratedBy string `json:"generated_by"`
}

// AuditEntry records a section being overwritten after it was first written.
type AuditEntry struct {
	Section  string          `json:"section"`
	Stage    string          `json:"stage"`
	Previous json.RawMessage `json:"previous"`
	Current  json.RawMessage `json:"current"`
	At       time.Time       `json:"at"`
}

// ClaimContext is the unit of work threaded through the stages.
type ClaimContext struct {
	ClaimID             string    `json:"claim_id"`
	Type                string    `json:"type"`
	Date                string    `json:"date,omitempty"`
	Amount              float64   `json:"amount"`
	Description         string    `json:"description"`
	CustomerID          string    `json:"customer_id"`
	PolicyNumber        string    `json:"policy_number"`
	IncidentLocation    string    `json:"incident_location,omitempty"`
	PoliceReport        string    `json:"police_report,omitempty"`
	InjuriesReported    bool      `json:"injuries_reported"`
	OtherPartyInvolved  bool      `json:"other_party_involved"`
	OtherPartiesCount   int       `json:"other_parties_count,omitempty"`
	CustomerTenureDays  *int      `json:"customer_tenure_days,omitempty"`
	PreviousClaimsCount int       `json:"previous_claims_count"`
	SubmittedAt         time.Time `json:"submitted_at"`

	Validation    *ValidationResult `json:"validation,omitempty"`
	Risk          *RiskAssessment   `json:"risk,omitempty"`
	Routing       *RoutingDecision  `json:"routing,omitempty"`
	Documentation *Documentation    `json:"documentation,omitempty"`

	Audit []AuditEntry `json:"audit,omitempty"`
}

// PartiesInvolved returns the number of other parties, treating the boolean flag as one party
// when no explicit count was supplied.
func (c *ClaimContext) PartiesInvolved() int {
	if c.OtherPartiesCount > 0 {
		return c.OtherPartiesCount
	}

	if c.OtherPartyInvolved {
		return 1
	}

	return 0
}

// Clone returns a deep copy so concurrent stages never share mutable state.
func (c ClaimContext) Clone() ClaimContext {
	out := c

	if c.CustomerTenureDays != nil {
		tenure := *c.CustomerTenureDays
		out.CustomerTenureDays = &tenure
	}

	if c.Validation != nil {
		v := *c.Validation
		v.Errors = slices.Clone(c.Validation.Errors)
		v.Warnings = slices.Clone(c.Validation.Warnings)
		out.Validation = &v
	}

	if c.Risk != nil {
		r := *c.Risk
		r.Reasons = slices.Clone(c.Risk.Reasons)
		out.Risk = &r
	}

	if c.Routing != nil {
		r := *c.Routing
		out.Routing = &r
	}

	if c.Documentation != nil {
		d := *c.Documentation
		out.Documentation = &d
	}

	out.Audit = slices.Clone(c.Audit)

	return out
}

// Apply merges the sections a stage wrote into c. A section counts as written when it differs
// between the snapshot the stage received (before) and the one it returned (after). Overwriting
// a section that already holds a different value appends an audit entry. The new entries are
// returned as well as appended to c.Audit.
func (c *ClaimContext) Apply(stage string, before, after ClaimContext, at time.Time) []AuditEntry {
	var entries []AuditEntry

	applySection(&entries, SectionValidation, stage, &c.Validation, before.Validation, after.Validation, at)
	applySection(&entries, SectionRisk, stage, &c.Risk, before.Risk, after.Risk, at)
	applySection(&entries, SectionRouting, stage, &c.Routing, before.Routing, after.Routing, at)
	applySection(&entries, SectionDocumentation, stage, &c.Documentation, before.Documentation, after.Documentation, at)

	c.Audit = append(c.Audit, entries...)

	return entries
}

func applySection[T any](entries *[]AuditEntry, section, stage string, current **T, before, after *T, at time.Time) {
	if after == nil || cmp.Equal(before, after) {
		return
	}

	if *current != nil && !cmp.Equal(*current, after) {
		previous, _ := json.Marshal(*current)
		next, _ := json.Marshal(after)

		*entries = append(*entries, AuditEntry{
			Section:  section,
			Stage:    stage,
			Previous: previous,
			Current:  next,
			At:       at,
		})
	}

	value := *after
	*current = &value
}
