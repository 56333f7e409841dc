// Package stages implements the claim processing stages run by the workflow engine.
package stages

import (
	"context"

	"github.com/dukex/claimflow/pkg/models"
)

// Stage names.
const (
	NameIntake         = "intake"
	NameRiskAssessment = "risk_assessment"
	NameRouting        = "routing"
	NameDocumentation  = "documentation"
)

// Result is what a stage returns on success: the enriched claim snapshot and a stage-specific
// payload recorded on the outcome.
type Result struct {
	Claim   models.ClaimContext
	Payload map[string]any
}

// Stage is a unit of work over a claim snapshot. Implementations must not retain or share the
// snapshot; the engine hands each invocation its own copy.
type Stage interface {
	Name() string
	Execute(ctx context.Context, claim models.ClaimContext) (Result, error)
}

// Speculator is implemented by stages that can run before a soft dependency has finished.
// Speculate fills in provisional inputs; Consistent reports whether the stage's section still
// agrees with the authoritative claim once the dependency completed.
type Speculator interface {
	Speculate(claim models.ClaimContext) models.ClaimContext
	Consistent(claim models.ClaimContext) bool
}

// Func adapts a plain function into a Stage.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, claim models.ClaimContext) (Result, error)
}

func (f Func) Name() string {
	return f.StageName
}

func (f Func) Execute(ctx context.Context, claim models.ClaimContext) (Result, error) {
	return f.Fn(ctx, claim)
}
