package cmd

import (
	"log/slog"

	"github.com/dukex/claimflow/pkg/config"
	"github.com/dukex/claimflow/pkg/generator"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/stages"
)

// NewGenerator returns the chat completion client when an endpoint is configured and the
// template renderer otherwise.
func NewGenerator(logger *slog.Logger, cfg config.Generator) generator.Generator {
	if cfg.BaseURL == "" {
		logger.Info("No generator endpoint configured, using template documentation")

		return generator.NewTemplate()
	}

	return generator.NewChatClient(logger, generator.ChatConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
}

// NewRegistry assembles the FNOL stages for the policy and registers them.
func NewRegistry(logger *slog.Logger, policy config.Policy) (*registry.Registry, error) {
	intake, err := stages.NewIntakeStage()
	if err != nil {
		return nil, err
	}

	return registry.Default(logger, registry.Set{
		Intake:         intake,
		RiskAssessment: stages.NewRiskStage(),
		Routing:        stages.NewRoutingStage(policy.PreliminaryRisk),
		Documentation:  stages.NewDocumentationStage(NewGenerator(logger, policy.Generator)),
	})
}
