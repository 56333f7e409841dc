package registry

import (
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/stages"
)

var (
	allStrategies  = []models.Strategy{models.StrategyFastTrack, models.StrategyParallel, models.StrategySequential}
	fullStrategies = []models.Strategy{models.StrategyParallel, models.StrategySequential}
)

// Set is the stage implementations making up the FNOL pipeline.
type Set struct {
	Intake         stages.Stage
	RiskAssessment stages.Stage
	Routing        stages.Stage
	Documentation  stages.Stage
}

// Default builds and validates the standard FNOL registry. Fast-track skips risk assessment and
// routes on the default LOW assessment.
func Default(log *slog.Logger, set Set) (*Registry, error) {
	r := NewRegistry(log)

	specs := []Spec{
		{
			Name:        stages.NameIntake,
			Stage:       set.Intake,
			RequiredFor: allStrategies,
		},
		{
			Name:         stages.NameRiskAssessment,
			Stage:        set.RiskAssessment,
			RequiredFor:  fullStrategies,
			CollapsedFor: []models.Strategy{models.StrategyFastTrack},
			Collapse:     stages.DefaultRisk,
			DependsOn:    []string{stages.NameIntake},
		},
		{
			Name:          stages.NameRouting,
			Stage:         set.Routing,
			RequiredFor:   allStrategies,
			DependsOn:     []string{stages.NameIntake},
			SoftDependsOn: []string{stages.NameRiskAssessment},
		},
		{
			Name:        stages.NameDocumentation,
			Stage:       set.Documentation,
			OptionalFor: fullStrategies,
			DependsOn:   []string{stages.NameRiskAssessment, stages.NameRouting},
		},
	}

	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}
