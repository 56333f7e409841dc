// Package events defines the claim workflow lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every claim workflow lifecycle event.
const Topic = "claimflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowStartedEvent   EventType = "workflow.started"
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowFailedEvent    EventType = "workflow.failed"

	StageCompletedEvent  EventType = "stage.completed"
	StageFailedEvent     EventType = "stage.failed"
	StageSkippedEvent    EventType = "stage.skipped"
	StageReconciledEvent EventType = "stage.reconciled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ClaimID    string         `json:"claim_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, claimID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		ClaimID:    claimID,
		WorkflowID: workflowID,
	}
}

type WorkflowStarted struct {
	BaseEvent

	Strategy   models.Strategy `json:"strategy"`
	Reasons    []string        `json:"reasons,omitempty"`
	TotalSteps int             `json:"total_steps"`
	Reprocess  bool            `json:"reprocess,omitempty"`
}

func (w WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	Strategy       models.Strategy     `json:"strategy"`
	RiskCategory   models.RiskCategory `json:"risk_category,omitempty"`
	ProcessingPath string              `json:"processing_path,omitempty"`
	Duration       time.Duration       `json:"duration"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Strategy  models.Strategy  `json:"strategy"`
	Error     string           `json:"error"`
	ErrorKind models.ErrorKind `json:"error_kind"`
	Duration  time.Duration    `json:"duration"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

// StageCompleted is published for every completed stage outcome, preliminary and reconciled included.
type StageCompleted struct {
	BaseEvent

	Stage      string            `json:"stage"`
	Phase      models.StagePhase `json:"phase,omitempty"`
	Attempts   int               `json:"attempts"`
	DurationMs int64             `json:"duration_ms"`
	Step       int               `json:"step"`
	Progress   float64           `json:"progress"`
}

func (s StageCompleted) GetType() EventType {
	return StageCompletedEvent
}

type StageFailed struct {
	BaseEvent

	Stage     string           `json:"stage"`
	Mandatory bool             `json:"mandatory"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error"`
	ErrorKind models.ErrorKind `json:"error_kind"`
}

func (s StageFailed) GetType() EventType {
	return StageFailedEvent
}

type StageSkipped struct {
	BaseEvent

	Stage string `json:"stage"`
}

func (s StageSkipped) GetType() EventType {
	return StageSkippedEvent
}

// StageReconciled is published when a speculative stage result was recomputed on the
// authoritative claim. Audit holds the sections the rerun overwrote.
type StageReconciled struct {
	BaseEvent

	Stage    string              `json:"stage"`
	Attempts int                 `json:"attempts"`
	Audit    []models.AuditEntry `json:"audit,omitempty"`
}

func (s StageReconciled) GetType() EventType {
	return StageReconciledEvent
}
