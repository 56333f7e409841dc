package workflow

import (
	"context"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/events"
)

func (x *execution) base(eventType events.EventType) events.BaseEvent {
	base := events.NewBaseEvent(eventType, x.handle.ClaimID, x.handle.WorkflowID)
	base.Timestamp = x.engine.clock.Now().UTC()

	return base
}

// publish sends a lifecycle event keyed by claim id. Delivery failures never affect the workflow.
func (x *execution) publish(ctx context.Context, event eventbus.Event) {
	if x.engine.publisher == nil {
		return
	}

	if err := x.engine.publisher.Publish(context.WithoutCancel(ctx), x.handle.ClaimID, event); err != nil {
		x.logger.WarnContext(ctx, "Failed to publish workflow event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
