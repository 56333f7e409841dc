package stages

import (
	"context"
	"fmt"

	"github.com/dukex/claimflow/pkg/generator"
	"github.com/dukex/claimflow/pkg/models"
)

// DocumentationStage asks a text generator for the claim summary and the detailed report.
type DocumentationStage struct {
	generator generator.Generator
}

func NewDocumentationStage(g generator.Generator) *DocumentationStage {
	return &DocumentationStage{generator: g}
}

func (s *DocumentationStage) Name() string {
	return NameDocumentation
}

// Execute returns generator errors unchanged so the engine can classify them.
func (s *DocumentationStage) Execute(ctx context.Context, claim models.ClaimContext) (Result, error) {
	summary, err := s.generator.Generate(ctx, generator.NewPromptContext(generator.TaskSummary, claim))
	if err != nil {
		return Result{}, fmt.Errorf("generate summary: %w", err)
	}

	report, err := s.generator.Generate(ctx, generator.NewPromptContext(generator.TaskReport, claim))
	if err != nil {
		return Result{}, fmt.Errorf("generate report: %w", err)
	}

	claim.Documentation = &models.Documentation{
		Summary:     summary,
		Report:      report,
		GeneratedBy: s.generator.Name(),
	}

	return Result{
		Claim: claim,
		Payload: map[string]any{
			"summary":      summary,
			"report_bytes": len(report),
			"generated_by": s.generator.Name(),
		},
	}, nil
}
