package workflow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/generator"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/memory"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recordingPublisher) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.GetType())
	}

	return out
}

// recordingPersistence remembers the progress of every saved snapshot.
type recordingPersistence struct {
	*memory.Persistence

	mu    sync.Mutex
	saves []models.WorkflowRecord
}

func (r *recordingPersistence) Save(ctx context.Context, record *models.WorkflowRecord) error {
	r.mu.Lock()
	r.saves = append(r.saves, record.Clone())
	r.mu.Unlock()

	return r.Persistence.Save(ctx, record)
}

func (r *recordingPersistence) savedFor(workflowID string) []models.WorkflowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.WorkflowRecord

	for _, s := range r.saves {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}

	return out
}

func defaultSet(t *testing.T) registry.Set {
	t.Helper()

	intake, err := stages.NewIntakeStage()
	require.NoError(t, err)

	return registry.Set{
		Intake:         intake,
		RiskAssessment: stages.NewRiskStage(),
		Routing:        stages.NewRoutingStage(models.RiskMedium),
		Documentation:  stages.NewDocumentationStage(generator.NewTemplate()),
	}
}

type testEngine struct {
	*Engine

	persistence *recordingPersistence
	publisher   *recordingPublisher
}

func newTestEngine(t *testing.T, set registry.Set) *testEngine {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	reg, err := registry.Default(logger, set)
	require.NoError(t, err)

	return newTestEngineWith(t, reg, memory.NewPersistence())
}

func newTestEngineWith(t *testing.T, reg *registry.Registry, p *memory.Persistence) *testEngine {
	t.Helper()

	recording := &recordingPersistence{Persistence: p}
	publisher := &recordingPublisher{}

	cfg := DefaultConfig()
	cfg.Retry = fastRetryPolicy()
	cfg.Publisher = publisher

	engine, err := NewEngine(context.Background(), slog.New(slog.DiscardHandler), reg, recording, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		_ = engine.Shutdown(ctx)
	})

	return &testEngine{Engine: engine, persistence: recording, publisher: publisher}
}

func submitAndWait(t *testing.T, e *testEngine, claim models.ClaimContext, opts ...SubmitOption) models.WorkflowRecord {
	t.Helper()

	handle, err := e.Submit(context.Background(), claim, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	record, err := handle.Wait(ctx)
	require.NoError(t, err)

	return record
}

func baseClaim(id string) models.ClaimContext {
	tenure := 400

	return models.ClaimContext{
		ClaimID:            id,
		Type:               "property_damage",
		Date:               "2024-01-14",
		Amount:             8500,
		Description:        "Water damage in kitchen from burst pipe",
		CustomerID:         "CUST-12345",
		PolicyNumber:       "POL-HO-987654",
		IncidentLocation:   "Springfield",
		CustomerTenureDays: &tenure,
		SubmittedAt:        epoch,
	}
}

func stageNames(outcomes []models.StageOutcome) []string {
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		names = append(names, o.Stage)
	}

	return names
}

func TestEngine_FastTrackGlassClaim(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	claim := baseClaim("CLM-GLASS-1")
	claim.Type = "auto_glass"
	claim.Amount = 450
	claim.Description = "Windshield chip from road debris"

	record := submitAndWait(t, e, claim)

	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)
	assert.Equal(t, models.StrategyFastTrack, record.Strategy)
	assert.Equal(t, []string{stages.NameIntake, stages.NameRiskAssessment, stages.NameRouting}, stageNames(record.Outcomes))

	risk, ok := record.LatestOutcome(stages.NameRiskAssessment)
	require.True(t, ok)
	assert.Equal(t, models.StageStatusSkipped, risk.Status)

	require.NotNil(t, record.Claim.Risk)
	assert.True(t, record.Claim.Risk.Defaulted)
	assert.Equal(t, models.RiskLow, record.Claim.Risk.Category)

	require.NotNil(t, record.Claim.Routing)
	assert.Equal(t, models.PriorityLow, record.Claim.Routing.Priority)
	assert.Equal(t, "low/standard", record.Claim.Routing.ProcessingPath)
	assert.Nil(t, record.Claim.Documentation)

	assert.Equal(t, 2, record.TotalSteps)
	assert.Equal(t, 2, record.CurrentStep)
	assert.InDelta(t, 1.0, record.Progress, 0.0001)
	assert.NotNil(t, record.CompletedAt)
}

func TestEngine_ParallelClaimReconcilesSpeculativeRouting(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	record := submitAndWait(t, e, baseClaim("CLM-PAR-1"))

	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)
	assert.Equal(t, models.StrategyParallel, record.Strategy)

	require.NotNil(t, record.Claim.Risk)
	assert.Equal(t, models.RiskLow, record.Claim.Risk.Category)

	// Routing ran on the MEDIUM guess and was recomputed on the LOW assessment.
	routing := slices.DeleteFunc(slices.Clone(record.Outcomes), func(o models.StageOutcome) bool {
		return o.Stage != stages.NameRouting
	})
	require.Len(t, routing, 2)
	assert.Equal(t, models.StagePhasePreliminary, routing[0].Phase)
	assert.Equal(t, "MEDIUM", routing[0].Payload["risk_basis"])
	assert.Equal(t, models.StagePhaseReconciled, routing[1].Phase)
	assert.Equal(t, models.RiskLow, record.Claim.Routing.RiskBasis)

	require.Len(t, record.Claim.Audit, 1)
	assert.Equal(t, models.SectionRouting, record.Claim.Audit[0].Section)

	require.NotNil(t, record.Claim.Documentation)
	assert.Equal(t, "template", record.Claim.Documentation.GeneratedBy)
	assert.Contains(t, record.Claim.Documentation.Summary, "CLM-PAR-1")
	assert.Equal(t, stages.NameDocumentation, record.Outcomes[len(record.Outcomes)-1].Stage)

	assert.Equal(t, 4, record.TotalSteps)
	assert.Equal(t, 4, record.CurrentStep)
	assert.Contains(t, e.publisher.types(), events.StageReconciledEvent)
}

// announcingRouting closes started the first time routing runs.
type announcingRouting struct {
	*stages.RoutingStage

	started chan struct{}
	once    sync.Once
}

func (r *announcingRouting) Execute(ctx context.Context, claim models.ClaimContext) (stages.Result, error) {
	r.once.Do(func() { close(r.started) })

	return r.RoutingStage.Execute(ctx, claim)
}

func TestEngine_ParallelRiskAndRoutingOverlap(t *testing.T) {
	set := defaultSet(t)
	routing := &announcingRouting{RoutingStage: stages.NewRoutingStage(models.RiskMedium), started: make(chan struct{})}
	set.Routing = routing

	var overlapped atomic.Bool

	risk := set.RiskAssessment
	set.RiskAssessment = stages.Func{
		StageName: stages.NameRiskAssessment,
		Fn: func(ctx context.Context, claim models.ClaimContext) (stages.Result, error) {
			select {
			case <-routing.started:
				overlapped.Store(true)
			case <-ctx.Done():
				return stages.Result{}, ctx.Err()
			}

			return risk.Execute(ctx, claim)
		},
	}

	e := newTestEngine(t, set)

	record := submitAndWait(t, e, baseClaim("CLM-PAR-3"))

	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)
	assert.True(t, overlapped.Load(), "risk assessment saw routing start while it was running")

	riskOutcome, ok := record.LatestOutcome(stages.NameRiskAssessment)
	require.True(t, ok)
	assert.Equal(t, 1, riskOutcome.Attempts)

	first := slices.IndexFunc(record.Outcomes, func(o models.StageOutcome) bool {
		return o.Stage == stages.NameRouting
	})
	require.GreaterOrEqual(t, first, 0)
	assert.Equal(t, models.StagePhasePreliminary, record.Outcomes[first].Phase)
	assert.False(t, record.Outcomes[first].StartedAt.After(riskOutcome.EndedAt))
}

func TestEngine_ParallelClaimKeepsConsistentSpeculation(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	claim := baseClaim("CLM-PAR-2")
	claim.Amount = 21000 // 3 + 3 for the high amount: MEDIUM, the preliminary guess

	record := submitAndWait(t, e, claim)

	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)
	assert.Equal(t, models.RiskMedium, record.Claim.Risk.Category)

	routing, ok := record.LatestOutcome(stages.NameRouting)
	require.True(t, ok)
	assert.Equal(t, models.StagePhasePreliminary, routing.Phase)
	assert.Empty(t, record.Claim.Audit)
	assert.NotContains(t, e.publisher.types(), events.StageReconciledEvent)
}

func TestEngine_SequentialHighValueInjuryClaim(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	tenure := 30
	claim := baseClaim("CLM-SEQ-1")
	claim.Type = "liability"
	claim.Amount = 50000
	claim.InjuriesReported = true
	claim.CustomerTenureDays = &tenure

	record := submitAndWait(t, e, claim)

	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)
	assert.Equal(t, models.StrategySequential, record.Strategy)
	assert.Equal(t, []string{
		stages.NameIntake,
		stages.NameRiskAssessment,
		stages.NameRouting,
		stages.NameDocumentation,
	}, stageNames(record.Outcomes))

	for _, o := range record.Outcomes {
		assert.Equal(t, models.StagePhaseFinal, o.Phase)
	}

	assert.Equal(t, 9, record.Claim.Risk.Score)
	assert.Equal(t, models.RiskHigh, record.Claim.Risk.Category)
	assert.Equal(t, models.PriorityUrgent, record.Claim.Routing.Priority)
	assert.Equal(t, models.AdjusterSenior, record.Claim.Routing.AdjusterTier)
	assert.Empty(t, record.Claim.Audit)
}

func TestEngine_ValidationFailureIsNotRetried(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	claim := baseClaim("CLM-BAD-1")
	claim.PolicyNumber = ""

	record := submitAndWait(t, e, claim)

	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindValidation, record.ErrorKind)
	assert.Contains(t, record.Error, "missing_policy_number")

	require.Len(t, record.Outcomes, 1)
	assert.Equal(t, stages.NameIntake, record.Outcomes[0].Stage)
	assert.Equal(t, models.StageStatusFailed, record.Outcomes[0].Status)
	assert.Equal(t, 1, record.Outcomes[0].Attempts)
	assert.Nil(t, record.Claim.Routing)
	assert.Contains(t, e.publisher.types(), events.WorkflowFailedEvent)
}

func TestEngine_OptionalStageFailureStillCompletes(t *testing.T) {
	set := defaultSet(t)

	var calls atomic.Int32

	set.Documentation = stages.Func{
		StageName: stages.NameDocumentation,
		Fn: func(context.Context, models.ClaimContext) (stages.Result, error) {
			calls.Add(1)

			return stages.Result{}, models.NewTransientError("generate summary", errors.New("status 503"))
		},
	}

	e := newTestEngine(t, set)

	record := submitAndWait(t, e, baseClaim("CLM-DOC-1"))

	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)

	doc, ok := record.LatestOutcome(stages.NameDocumentation)
	require.True(t, ok)
	assert.Equal(t, models.StageStatusFailed, doc.Status)
	assert.Equal(t, models.ErrorKindTransient, doc.ErrorKind)
	assert.Equal(t, 3, doc.Attempts)
	assert.Equal(t, 2, doc.Retries)
	assert.Equal(t, int32(3), calls.Load())
	assert.Nil(t, record.Claim.Documentation)
	assert.InDelta(t, 1.0, record.Progress, 0.0001)
}

func TestEngine_MandatoryTransientFailureExhaustsRetries(t *testing.T) {
	set := defaultSet(t)
	set.RiskAssessment = stages.Func{
		StageName: stages.NameRiskAssessment,
		Fn: func(context.Context, models.ClaimContext) (stages.Result, error) {
			return stages.Result{}, models.NewTransientError("scoring service", errors.New("connection refused"))
		},
	}

	e := newTestEngine(t, set)

	claim := baseClaim("CLM-RISK-1")
	claim.Type = "liability"

	record := submitAndWait(t, e, claim)

	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindTransient, record.ErrorKind)

	risk, ok := record.LatestOutcome(stages.NameRiskAssessment)
	require.True(t, ok)
	assert.Equal(t, 3, risk.Attempts)
	assert.False(t, record.Resolved(stages.NameRouting), "nothing runs after a mandatory failure")
}

func TestEngine_StageTimeoutIsRetriedThenFails(t *testing.T) {
	set := defaultSet(t)
	set.Routing = stages.Func{
		StageName: stages.NameRouting,
		Fn: func(ctx context.Context, _ models.ClaimContext) (stages.Result, error) {
			<-ctx.Done()

			return stages.Result{}, ctx.Err()
		},
	}

	logger := slog.New(slog.DiscardHandler)
	reg, err := registry.Default(logger, set)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Retry = fastRetryPolicy()
	cfg.Retry.StageTimeout = 10 * time.Millisecond

	engine, err := NewEngine(context.Background(), logger, reg, memory.NewPersistence(), cfg)
	require.NoError(t, err)

	claim := baseClaim("CLM-SLOW-1")
	claim.Type = "liability"

	handle, err := engine.Submit(context.Background(), claim)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	record, err := handle.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindTransient, record.ErrorKind)

	routing, ok := record.LatestOutcome(stages.NameRouting)
	require.True(t, ok)
	assert.Equal(t, 3, routing.Attempts)
}

func TestEngine_ProgressIsMonotonic(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	record := submitAndWait(t, e, baseClaim("CLM-MONO-1"))
	require.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)

	saves := e.persistence.savedFor(record.WorkflowID)
	require.NotEmpty(t, saves)

	for i := 1; i < len(saves); i++ {
		assert.GreaterOrEqual(t, saves[i].CurrentStep, saves[i-1].CurrentStep)
		assert.GreaterOrEqual(t, saves[i].Progress, saves[i-1].Progress)
		assert.GreaterOrEqual(t, len(saves[i].Outcomes), len(saves[i-1].Outcomes))
		assert.LessOrEqual(t, saves[i].CurrentStep, saves[i].TotalSteps)
	}

	assert.Equal(t, models.WorkflowStatusPending, saves[0].Status)
	assert.Equal(t, models.WorkflowStatusCompleted, saves[len(saves)-1].Status)
}

// gate blocks a stage until released so tests can act while a workflow is in flight.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) stage(name string, next stages.Stage) stages.Stage {
	return stages.Func{
		StageName: name,
		Fn: func(ctx context.Context, claim models.ClaimContext) (stages.Result, error) {
			g.once.Do(func() { close(g.entered) })

			select {
			case <-g.release:
			case <-ctx.Done():
				return stages.Result{}, ctx.Err()
			}

			return next.Execute(ctx, claim)
		},
	}
}

func TestEngine_DuplicateSubmissions(t *testing.T) {
	set := defaultSet(t)
	g := newGate()
	set.Intake = g.stage(stages.NameIntake, set.Intake)

	e := newTestEngine(t, set)
	claim := baseClaim("CLM-DUP-1")

	handle, err := e.Submit(context.Background(), claim)
	require.NoError(t, err)

	<-g.entered

	_, err = e.Submit(context.Background(), claim)
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))

	status, err := e.Status(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, handle.WorkflowID, status.WorkflowID)
	assert.Equal(t, models.WorkflowStatusInProgress, status.Status)

	close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	first, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStatusCompleted, first.Status, first.Error)

	_, err = e.Submit(context.Background(), claim)
	assert.True(t, IsDuplicate(err), "a finished claim needs an explicit reprocess")

	second := submitAndWait(t, e, claim, WithReprocess())
	assert.NotEqual(t, first.WorkflowID, second.WorkflowID)
	assert.True(t, second.Reprocess)

	current, err := e.Status(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, second.WorkflowID, current.WorkflowID)

	history, err := e.History(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.WorkflowID, history[0].WorkflowID)
	assert.Equal(t, first.WorkflowID, history[1].WorkflowID)
}

func TestEngine_Reprocess(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	claim := baseClaim("CLM-RE-1")
	claim.Type = "windshield"
	claim.Amount = 200

	first := submitAndWait(t, e, claim)
	require.Equal(t, models.WorkflowStatusCompleted, first.Status, first.Error)

	handle, err := e.Reprocess(context.Background(), "CLM-RE-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	second, err := handle.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, second.Status)
	assert.True(t, second.Reprocess)
	assert.Equal(t, models.StrategyFastTrack, second.Strategy)
	assert.Empty(t, second.Claim.Audit, "reprocessing starts from the raw claim")
	assert.True(t, second.Claim.Risk.Defaulted)

	_, err = e.Reprocess(context.Background(), "CLM-UNKNOWN")
	assert.True(t, IsNotFound(err))
}

func TestEngine_SubmitRejectsMissingClaimID(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	claim := baseClaim("")

	_, err := e.Submit(context.Background(), claim)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{"missing_claim_id"}, validation.Codes)

	records, total, err := e.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, total)
}

func TestEngine_CancelTakesEffectAtStageBoundary(t *testing.T) {
	set := defaultSet(t)
	g := newGate()
	set.Intake = g.stage(stages.NameIntake, set.Intake)

	e := newTestEngine(t, set)

	handle, err := e.Submit(context.Background(), baseClaim("CLM-CANCEL-1"))
	require.NoError(t, err)

	<-g.entered

	require.NoError(t, e.Cancel(context.Background(), "CLM-CANCEL-1"))
	close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	record, err := handle.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindCancelled, record.ErrorKind)
	assert.True(t, record.Completed(stages.NameIntake), "the running stage finishes")
	assert.False(t, record.Resolved(stages.NameRiskAssessment))

	err = e.Cancel(context.Background(), "CLM-CANCEL-1")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	err = e.Cancel(context.Background(), "CLM-UNKNOWN")
	assert.True(t, IsNotFound(err))
}

func TestEngine_CancelSkipsReconciliation(t *testing.T) {
	set := defaultSet(t)
	g := newGate()
	set.RiskAssessment = g.stage(stages.NameRiskAssessment, set.RiskAssessment)

	e := newTestEngine(t, set)

	handle, err := e.Submit(context.Background(), baseClaim("CLM-CANCEL-2"))
	require.NoError(t, err)

	<-g.entered

	require.NoError(t, e.Cancel(context.Background(), "CLM-CANCEL-2"))
	close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	record, err := handle.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindCancelled, record.ErrorKind)
	assert.True(t, record.Completed(stages.NameRiskAssessment), "the running wave finishes")

	for _, o := range record.Outcomes {
		assert.NotEqual(t, models.StagePhaseReconciled, o.Phase, "no stage starts after cancellation")
	}

	assert.NotContains(t, e.publisher.types(), events.StageReconciledEvent)
}

func TestEngine_StatusAndList(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	_, err := e.Status(context.Background(), "CLM-UNKNOWN")
	assert.True(t, IsNotFound(err))

	glass := baseClaim("CLM-LIST-1")
	glass.Type = "auto_glass"
	glass.Amount = 300

	bad := baseClaim("CLM-LIST-2")
	bad.CustomerID = ""

	submitAndWait(t, e, glass)
	submitAndWait(t, e, bad)
	submitAndWait(t, e, baseClaim("CLM-LIST-3"))

	status, err := e.Status(context.Background(), "CLM-LIST-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, status.Status)

	all, total, err := e.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	failed, total, err := e.List(context.Background(), Filter{Status: models.WorkflowStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "CLM-LIST-2", failed[0].ClaimID)

	fastTrack, _, err := e.List(context.Background(), Filter{Strategy: models.StrategyFastTrack})
	require.NoError(t, err)
	require.Len(t, fastTrack, 1)
	assert.Equal(t, "CLM-LIST-1", fastTrack[0].ClaimID)

	metrics := e.Metrics()
	assert.Equal(t, 3, metrics.TotalSeen)
	assert.Equal(t, 2, metrics.TotalCompleted)
	assert.Equal(t, 1, metrics.TotalFailed)
	assert.Equal(t, 1, metrics.ByStrategy[models.StrategyFastTrack])
}

func TestEngine_ShutdownRejectsSubmissions(t *testing.T) {
	e := newTestEngine(t, defaultSet(t))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, e.Shutdown(ctx))

	_, err := e.Submit(context.Background(), baseClaim("CLM-LATE-1"))
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestEngine_ShutdownAbortsOnDeadline(t *testing.T) {
	set := defaultSet(t)
	g := newGate()
	set.Intake = g.stage(stages.NameIntake, set.Intake)

	e := newTestEngine(t, set)

	handle, err := e.Submit(context.Background(), baseClaim("CLM-STUCK-1"))
	require.NoError(t, err)

	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)

	record := handle.Status()
	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindCancelled, record.ErrorKind)
}

// inconsistent always claims its result disagrees with the claim.
type inconsistent struct {
	stages.Func
}

func (inconsistent) Speculate(claim models.ClaimContext) models.ClaimContext { return claim }

func (inconsistent) Consistent(models.ClaimContext) bool { return false }

func TestEngine_InconsistentResultIsAStrategyViolation(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	reg := registry.NewRegistry(logger)

	all := []models.Strategy{models.StrategyFastTrack, models.StrategyParallel, models.StrategySequential}
	noop := func(_ context.Context, claim models.ClaimContext) (stages.Result, error) {
		return stages.Result{Claim: claim}, nil
	}

	require.NoError(t, reg.Register(registry.Spec{
		Name:        "check",
		Stage:       inconsistent{stages.Func{StageName: "check", Fn: noop}},
		RequiredFor: all,
	}))
	require.NoError(t, reg.Validate())

	e := newTestEngineWith(t, reg, memory.NewPersistence())

	claim := baseClaim("CLM-VIOL-1")
	claim.Type = "liability"

	record := submitAndWait(t, e, claim)

	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindStrategyViolation, record.ErrorKind)
	assert.True(t, record.Completed("check"))
}

func TestNewEngine_FailsInterruptedWorkflows(t *testing.T) {
	p := memory.NewPersistence()
	require.NoError(t, p.Save(context.Background(), &models.WorkflowRecord{
		WorkflowID: "wf-old",
		ClaimID:    "CLM-OLD-1",
		Status:     models.WorkflowStatusInProgress,
		Strategy:   models.StrategyParallel,
		CreatedAt:  epoch,
		UpdatedAt:  epoch,
	}))

	logger := slog.New(slog.DiscardHandler)
	reg, err := registry.Default(logger, defaultSet(t))
	require.NoError(t, err)

	e := newTestEngineWith(t, reg, p)

	record, err := e.Status(context.Background(), "CLM-OLD-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, record.Status)
	assert.Equal(t, models.ErrorKindInternal, record.ErrorKind)

	assert.Equal(t, 1, e.Metrics().TotalFailed)

	_, err = e.Submit(context.Background(), baseClaim("CLM-OLD-1"))
	assert.True(t, IsDuplicate(err))
}

var _ persistence.Persistence = (*recordingPersistence)(nil)
