// Package workflow runs claims through their strategy plan: stage invocation with retries,
// concurrent waves, speculative stages and their reconciliation, and the record lifecycle.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/metrics"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/otelhelper"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/strategy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// Config carries the engine's policy and optional collaborators. Nil collaborators fall back to
// a real clock, a no-op tracer, no event publishing and an unregistered aggregator.
type Config struct {
	Thresholds strategy.Thresholds
	Retry      RetryPolicy
	Clock      clock.PassiveClock
	Tracer     trace.Tracer
	Publisher  eventbus.EventPublisher
	Metrics    *metrics.Aggregator
}

// DefaultConfig returns the production thresholds and retry policy.
func DefaultConfig() Config {
	return Config{
		Thresholds: strategy.DefaultThresholds(),
		Retry:      DefaultRetryPolicy(),
	}
}

// Engine runs claim workflows and serves their status, history and metrics.
type Engine struct {
	logger     *slog.Logger
	registry   *registry.Registry
	repository *Repository
	store      *store
	aggregator *metrics.Aggregator
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	clock      clock.PassiveClock
	thresholds strategy.Thresholds
	retry      RetryPolicy

	baseCtx context.Context
	abort   context.CancelFunc

	mu     sync.Mutex
	closed bool
	runs   map[string]*Handle
	wg     sync.WaitGroup
}

// NewEngine builds an engine over a validated registry. Records left in flight by a previous
// process are marked failed and the aggregator is rebuilt from the persisted records.
func NewEngine(ctx context.Context, logger *slog.Logger, reg *registry.Registry, p persistence.Persistence, cfg Config) (*Engine, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.NoopTracer()
	}

	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	if cfg.Metrics == nil {
		aggregator, err := metrics.NewAggregator(cfg.Clock, nil)
		if err != nil {
			return nil, err
		}

		cfg.Metrics = aggregator
	}

	for _, s := range models.Strategies() {
		if _, err := reg.Plan(s); err != nil {
			return nil, fmt.Errorf("registry plan for %s: %w", s, err)
		}
	}

	baseCtx, abort := context.WithCancel(context.WithoutCancel(ctx))

	e := &Engine{
		logger:     logger.With("module", "workflow_engine"),
		registry:   reg,
		repository: NewRepository(p),
		store:      newStore(logger, p, cfg.Clock, cfg.Retry.StageTimeout),
		aggregator: cfg.Metrics,
		publisher:  cfg.Publisher,
		tracer:     cfg.Tracer,
		clock:      cfg.Clock,
		thresholds: cfg.Thresholds,
		retry:      cfg.Retry,
		baseCtx:    baseCtx,
		abort:      abort,
		runs:       make(map[string]*Handle),
	}

	records, err := e.recoverInterrupted(ctx)
	if err != nil {
		abort()

		return nil, err
	}

	e.aggregator.Rebuild(records)

	e.logger.InfoContext(ctx, "Workflow engine started", "records", len(records))

	return e, nil
}

func (e *Engine) recoverInterrupted(ctx context.Context) ([]*models.WorkflowRecord, error) {
	records, err := e.repository.persistence.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load workflow records: %w", err)
	}

	for _, record := range records {
		if record.Status.IsTerminal() {
			continue
		}

		now := e.clock.Now()
		record.Status = models.WorkflowStatusFailed
		record.Error = "interrupted before completion"
		record.ErrorKind = models.ErrorKindInternal
		record.UpdatedAt = now
		record.CompletedAt = &now

		if err := e.repository.persistence.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("mark interrupted workflow %s: %w", record.WorkflowID, err)
		}

		e.logger.WarnContext(ctx, "Marked interrupted workflow as failed",
			"claim_id", record.ClaimID,
			"workflow_id", record.WorkflowID,
		)
	}

	return records, nil
}

// SubmitOption adjusts a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	reprocess bool
}

// WithReprocess allows a claim whose current record is terminal to run again. The new record
// supersedes the old one, which stays in the claim's history.
func WithReprocess() SubmitOption {
	return func(o *submitOptions) {
		o.reprocess = true
	}
}

// Submit selects the claim's strategy, creates its record and starts the workflow in the
// background. The claim's derived sections are discarded; stages recompute them.
func (e *Engine) Submit(ctx context.Context, claim models.ClaimContext, opts ...SubmitOption) (*Handle, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := persistence.ValidateIdentifier(claim.ClaimID); err != nil {
		code := "invalid_claim_id"
		if claim.ClaimID == "" {
			code = "missing_claim_id"
		}

		return nil, &models.ValidationError{Codes: []string{code}}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return nil, ErrEngineClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	handle, err := e.start(ctx, input(claim), o)
	if err != nil {
		e.wg.Done()

		return nil, err
	}

	return handle, nil
}

func (e *Engine) start(ctx context.Context, claim models.ClaimContext, o submitOptions) (*Handle, error) {
	selected, reasons := strategy.Explain(claim, e.thresholds)

	plan, err := e.registry.Plan(selected)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	record := models.WorkflowRecord{
		WorkflowID: uuid.NewString(),
		ClaimID:    claim.ClaimID,
		Status:     models.WorkflowStatusPending,
		Strategy:   selected,
		Claim:      claim,
		Outcomes:   []models.StageOutcome{},
		TotalSteps: totalSteps(plan),
		Reprocess:  o.reprocess,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t, err := e.store.begin(ctx, record, o.reprocess)
	if err != nil {
		return nil, err
	}

	e.aggregator.Seen(record)

	handle := &Handle{
		ClaimID:    record.ClaimID,
		WorkflowID: record.WorkflowID,
		tracked:    t,
		done:       make(chan struct{}),
		cancelled:  make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[record.ClaimID] = handle
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Claim submitted",
		"claim_id", record.ClaimID,
		"workflow_id", record.WorkflowID,
		"strategy", selected,
		"reasons", reasons,
		"reprocess", o.reprocess,
	)

	x := &execution{
		engine:   e,
		handle:   handle,
		strategy: selected,
		plan:     plan,
		reasons:  reasons,
		logger: e.logger.With(
			"claim_id", record.ClaimID,
			"workflow_id", record.WorkflowID,
			"strategy", selected,
		),
	}

	go func() {
		defer e.wg.Done()
		defer e.finish(handle)

		x.run(e.baseCtx)
	}()

	return handle, nil
}

func (e *Engine) finish(handle *Handle) {
	e.mu.Lock()
	if e.runs[handle.ClaimID] == handle {
		delete(e.runs, handle.ClaimID)
	}
	e.mu.Unlock()

	e.store.release(handle.ClaimID, handle.tracked)
	close(handle.done)
}

// Reprocess runs a finished claim again from its original input.
func (e *Engine) Reprocess(ctx context.Context, claimID string) (*Handle, error) {
	current, err := e.Status(ctx, claimID)
	if err != nil {
		return nil, err
	}

	return e.Submit(ctx, current.Claim, WithReprocess())
}

// Status returns the latest snapshot of the claim's current record without waiting on execution.
func (e *Engine) Status(ctx context.Context, claimID string) (models.WorkflowRecord, error) {
	if record, ok := e.store.snapshot(claimID); ok {
		return record, nil
	}

	return e.repository.FetchCurrent(ctx, claimID)
}

// History returns every record of the claim, newest first.
func (e *Engine) History(ctx context.Context, claimID string) ([]models.WorkflowRecord, error) {
	records, err := e.repository.FetchHistory(ctx, claimID)
	if err != nil {
		if live, ok := e.store.snapshot(claimID); ok && IsNotFound(err) {
			return []models.WorkflowRecord{live}, nil
		}

		return nil, err
	}

	if live, ok := e.store.snapshot(claimID); ok {
		for i := range records {
			if records[i].WorkflowID == live.WorkflowID {
				records[i] = live
			}
		}
	}

	return records, nil
}

// List returns the current record of each claim matching the filter, newest first, and the
// number of matches before paging.
func (e *Engine) List(ctx context.Context, filter Filter) ([]models.WorkflowRecord, int, error) {
	records, err := e.repository.FetchAll(ctx)
	if err != nil {
		return nil, 0, err
	}

	live := e.store.liveRecords()
	for i := range records {
		if record, ok := live[records[i].ClaimID]; ok && record.WorkflowID == records[i].WorkflowID {
			records[i] = record
		}
	}

	items, total := page(records, filter)

	return items, total, nil
}

// Cancel asks a running workflow to stop. It takes effect at the next stage boundary and the
// workflow ends FAILED with a cancelled error.
func (e *Engine) Cancel(ctx context.Context, claimID string) error {
	e.mu.Lock()
	handle, ok := e.runs[claimID]
	e.mu.Unlock()

	if ok && !handle.Status().Status.IsTerminal() {
		handle.cancel()

		e.logger.InfoContext(ctx, "Cancellation requested", "claim_id", claimID, "workflow_id", handle.WorkflowID)

		return nil
	}

	record, err := e.Status(ctx, claimID)
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: claim %s is %s", ErrAlreadyTerminal, claimID, record.Status)
}

// Metrics returns the aggregate counters.
func (e *Engine) Metrics() models.AggregateMetrics {
	return e.aggregator.Snapshot()
}

func (e *Engine) HealthCheck(ctx context.Context) (string, bool) {
	return e.repository.HealthCheck(ctx)
}

// Shutdown stops accepting submissions and waits for running workflows. When ctx ends first the
// remaining workflows are aborted and ctx's error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		e.abort()
		e.logger.InfoContext(ctx, "Workflow engine stopped")

		return nil
	case <-ctx.Done():
		e.abort()
		<-finished
		e.logger.WarnContext(ctx, "Workflow engine aborted running workflows")

		return ctx.Err()
	}
}

// Handle tracks one submitted workflow.
type Handle struct {
	ClaimID    string
	WorkflowID string

	tracked    *tracked
	done       chan struct{}
	cancelled  chan struct{}
	cancelOnce sync.Once
}

// Status returns a snapshot of the workflow record without blocking on execution.
func (h *Handle) Status() models.WorkflowRecord {
	return h.tracked.snapshot()
}

// Done is closed once the workflow reached a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the workflow finished or ctx ended and returns the latest snapshot.
func (h *Handle) Wait(ctx context.Context) (models.WorkflowRecord, error) {
	select {
	case <-h.done:
		return h.Status(), nil
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

func (h *Handle) cancel() {
	h.cancelOnce.Do(func() { close(h.cancelled) })
}

func (h *Handle) cancelRequested() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// totalSteps counts the stages that are executed under the plan; collapsed stages are not.
func totalSteps(plan []registry.PlannedStage) int {
	return len(slices.DeleteFunc(slices.Clone(plan), func(p registry.PlannedStage) bool {
		return p.Collapsed
	}))
}

// input strips the sections stages derive so a submission always starts from raw claim data.
func input(claim models.ClaimContext) models.ClaimContext {
	claim = claim.Clone()
	claim.Validation = nil
	claim.Risk = nil
	claim.Routing = nil
	claim.Documentation = nil
	claim.Audit = nil

	return claim
}
