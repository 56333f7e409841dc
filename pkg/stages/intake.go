package stages

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed claim.schema.json
var claimSchema []byte

// Field order used when reporting validation codes.
var intakeFields = []string{
	"claim_id",
	"type",
	"amount",
	"description",
	"customer_id",
	"policy_number",
	"submitted_at",
	"other_parties_count",
	"customer_tenure_days",
	"previous_claims_count",
}

const dateLayout = "2006-01-02"

// IntakeStage validates the raw claim fields against the claim schema and normalizes the
// incident date.
type IntakeStage struct {
	schema *gojsonschema.Schema
}

func NewIntakeStage() (*IntakeStage, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(claimSchema))
	if err != nil {
		return nil, fmt.Errorf("load claim schema: %w", err)
	}

	return &IntakeStage{schema: schema}, nil
}

func (s *IntakeStage) Name() string {
	return NameIntake
}

// Execute fails with a *models.ValidationError listing every problem found.
func (s *IntakeStage) Execute(ctx context.Context, claim models.ClaimContext) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	codes, err := s.Check(claim)
	if err != nil {
		return Result{}, err
	}

	validation := &models.ValidationResult{Valid: true}

	if claim.Date == "" {
		validation.Warnings = append(validation.Warnings, "missing_date")
	} else {
		normalized, ok := normalizeDate(claim.Date)
		if !ok {
			codes = append(codes, "invalid_date_format")
		}

		validation.NormalizedDate = normalized
	}

	if len(codes) > 0 {
		return Result{}, &models.ValidationError{Codes: codes}
	}

	if claim.IncidentLocation == "" {
		validation.Warnings = append(validation.Warnings, "missing_incident_location")
	}

	claim.Validation = validation

	payload := map[string]any{"valid": true}
	if len(validation.Warnings) > 0 {
		payload["warnings"] = validation.Warnings
	}

	if validation.NormalizedDate != "" {
		payload["normalized_date"] = validation.NormalizedDate
	}

	return Result{Claim: claim, Payload: payload}, nil
}

// Check validates the raw fields against the claim schema and returns the validation codes in
// field order. The error is non-nil only when the schema itself cannot be evaluated.
func (s *IntakeStage) Check(claim models.ClaimContext) ([]string, error) {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(document(claim)))
	if err != nil {
		return nil, fmt.Errorf("validate claim: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	missing := map[string]bool{}
	invalid := map[string]bool{}

	for _, desc := range result.Errors() {
		if desc.Type() == "required" {
			if property, ok := desc.Details()["property"].(string); ok {
				missing[property] = true
			}

			continue
		}

		invalid[desc.Field()] = true
	}

	var codes []string

	for _, field := range intakeFields {
		switch {
		case missing[field]:
			codes = append(codes, "missing_"+field)
		case invalid[field]:
			codes = append(codes, "invalid_"+field)
		}
	}

	return codes, nil
}

// document renders the claim as the JSON document the schema is evaluated against. Zero values
// are left out so that absent fields trip the required check.
func document(claim models.ClaimContext) map[string]any {
	doc := map[string]any{
		"other_parties_count":   claim.OtherPartiesCount,
		"previous_claims_count": claim.PreviousClaimsCount,
	}

	for key, value := range map[string]string{
		"claim_id":          claim.ClaimID,
		"type":              claim.Type,
		"description":       claim.Description,
		"customer_id":       claim.CustomerID,
		"policy_number":     claim.PolicyNumber,
		"date":              claim.Date,
		"incident_location": claim.IncidentLocation,
		"police_report":     claim.PoliceReport,
	} {
		if value != "" {
			doc[key] = value
		}
	}

	if claim.Amount != 0 {
		doc["amount"] = claim.Amount
	}

	if !claim.SubmittedAt.IsZero() {
		doc["submitted_at"] = claim.SubmittedAt.Format(time.RFC3339Nano)
	}

	if claim.CustomerTenureDays != nil {
		doc["customer_tenure_days"] = *claim.CustomerTenureDays
	}

	return doc
}

func normalizeDate(raw string) (string, bool) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.Format(dateLayout), true
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format(dateLayout), true
	}

	return "", false
}
