package main

import (
	"context"
	"log/slog"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/events"
)

// subscribeEventLog writes workflow outcomes and reconciliations from the event bus to the log.
func subscribeEventLog(ctx context.Context, bus eventbus.EventBus, logger *slog.Logger) error {
	logger = logger.With("module", "event_log")

	handlers := map[events.EventType]eventbus.EventHandler{
		events.WorkflowCompletedEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.WorkflowCompleted)
			if !ok {
				return nil
			}

			logger.InfoContext(ctx, "Workflow completed",
				"claim_id", e.ClaimID,
				"workflow_id", e.WorkflowID,
				"strategy", e.Strategy,
				"risk_category", e.RiskCategory,
				"processing_path", e.ProcessingPath,
				"duration", e.Duration,
			)

			return nil
		},
		events.WorkflowFailedEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.WorkflowFailed)
			if !ok {
				return nil
			}

			logger.WarnContext(ctx, "Workflow failed",
				"claim_id", e.ClaimID,
				"workflow_id", e.WorkflowID,
				"strategy", e.Strategy,
				"error_kind", e.ErrorKind,
				"error", e.Error,
			)

			return nil
		},
		events.StageReconciledEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.StageReconciled)
			if !ok {
				return nil
			}

			logger.InfoContext(ctx, "Speculative stage reconciled",
				"claim_id", e.ClaimID,
				"workflow_id", e.WorkflowID,
				"stage", e.Stage,
				"overwritten_sections", len(e.Audit),
			)

			return nil
		},
	}

	for eventType, handler := range handlers {
		if err := bus.Handle(eventType, handler); err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}
