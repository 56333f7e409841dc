package models

import (
	"maps"
	"slices"
	"time"
)

// WorkflowStatus represents the lifecycle state of a claim workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "PENDING"
	WorkflowStatusInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowStatusCompleted  WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
)

// IsTerminal reports whether no further stage execution can happen.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// StageStatus is the resolution of a single stage.
type StageStatus string

const (
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StagePhase distinguishes speculative runs from their reconciliation.
type StagePhase string

const (
	StagePhaseFinal       StagePhase = ""
	StagePhasePreliminary StagePhase = "preliminary"
	StagePhaseReconciled  StagePhase = "reconciled"
)

// ErrorKind classifies the error detail carried by a failed outcome or record.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindTransient         ErrorKind = "transient"
	ErrorKindStrategyViolation ErrorKind = "strategy_violation"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindInternal          ErrorKind = "internal"
)

// StageOutcome is the immutable result of one stage resolution.
type StageOutcome struct {
	Stage     string         `json:"stage"`
	Status    StageStatus    `json:"status"`
	Phase     StagePhase     `json:"phase,omitempty"`
	Mandatory bool           `json:"mandatory"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Attempts  int            `json:"attempts"`
	Retries   int            `json:"retries"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
}

// WorkflowRecord is the per-claim record of execution progress and outcomes.
type WorkflowRecord struct {
	WorkflowID   string         `json:"workflow_id"`
	ClaimID      string         `json:"claim_id"`
	Status       WorkflowStatus `json:"status"`
	Strategy     Strategy       `json:"strategy"`
	Claim        ClaimContext   `json:"claim"`
	Outcomes     []StageOutcome `json:"outcomes"`
	CurrentStep  int            `json:"current_step"`
	CurrentStage string         `json:"current_stage,omitempty"`
	TotalSteps   int            `json:"total_steps"`
	Progress     float64        `json:"progress"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	Reprocess    bool           `json:"reprocess,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy suitable for handing out as a snapshot.
func (r WorkflowRecord) Clone() WorkflowRecord {
	out := r
	out.Claim = r.Claim.Clone()
	out.Outcomes = make([]StageOutcome, len(r.Outcomes))

	for i, o := range r.Outcomes {
		o.Payload = maps.Clone(o.Payload)
		out.Outcomes[i] = o
	}

	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}

	return out
}

// LatestOutcome returns the most recently appended outcome for a stage.
func (r *WorkflowRecord) LatestOutcome(stage string) (StageOutcome, bool) {
	for _, o := range slices.Backward(r.Outcomes) {
		if o.Stage == stage {
			return o, true
		}
	}

	return StageOutcome{}, false
}

// Resolved reports whether the stage has a completed, failed or skipped outcome.
func (r *WorkflowRecord) Resolved(stage string) bool {
	_, ok := r.LatestOutcome(stage)

	return ok
}

// Completed reports whether the latest outcome of the stage is completed.
func (r *WorkflowRecord) Completed(stage string) bool {
	o, ok := r.LatestOutcome(stage)

	return ok && o.Status == StageStatusCompleted
}

// Duration is the time between creation and completion, zero while in flight.
func (r *WorkflowRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}

	return r.CompletedAt.Sub(r.CreatedAt)
}
