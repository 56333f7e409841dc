package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/otelhelper"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/stages"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type stepKind int

const (
	stepRun stepKind = iota
	stepSpeculate
	stepCollapse
	stepSkip
)

type step struct {
	registry.PlannedStage

	kind   stepKind
	reason string
}

// execution drives one workflow record through its plan. It runs on the workflow's own
// goroutine; stage goroutines only report back through resolve.
type execution struct {
	engine   *Engine
	handle   *Handle
	strategy models.Strategy
	plan     []registry.PlannedStage
	reasons  []string
	logger   *slog.Logger
}

func (x *execution) run(ctx context.Context) {
	ctx, span := otelhelper.StartSpan(ctx, x.engine.tracer, "claim.workflow",
		attribute.String(otelhelper.ClaimIDKey, x.handle.ClaimID),
		attribute.String(otelhelper.WorkflowIDKey, x.handle.WorkflowID),
		attribute.String(otelhelper.StrategyKey, string(x.strategy)),
	)
	defer span.End()

	record := x.update(ctx, func(r *models.WorkflowRecord) {
		r.Status = models.WorkflowStatusInProgress
	})

	started := events.WorkflowStarted{
		BaseEvent:  x.base(events.WorkflowStartedEvent),
		Strategy:   x.strategy,
		Reasons:    x.reasons,
		TotalSteps: record.TotalSteps,
		Reprocess:  record.Reprocess,
	}
	x.publish(ctx, started)

	x.logger.InfoContext(ctx, "Workflow started", "total_steps", record.TotalSteps)

	err := x.execute(ctx)
	if err == nil {
		err = x.verify()
	}

	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.ErrorKindKey, string(Classify(err))))
		x.fail(ctx, err)

		return
	}

	x.complete(ctx)
}

func (x *execution) execute(ctx context.Context) error {
	for {
		if x.handle.cancelRequested() {
			return ErrCancelled
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		wave, err := x.ready(x.handle.Status())
		if err != nil {
			return err
		}

		if len(wave) == 0 {
			return nil
		}

		if !x.strategy.Concurrent() {
			wave = wave[:1]
		}

		if err := x.runWave(ctx, wave); err != nil {
			return err
		}

		if err := x.reconcile(ctx); err != nil {
			return err
		}
	}
}

// ready returns the unresolved stages whose dependencies are settled, in plan order. Under a
// speculative strategy a stage that can speculate may start before its soft dependencies.
func (x *execution) ready(record models.WorkflowRecord) ([]step, error) {
	var wave []step

	for _, p := range x.plan {
		if record.Resolved(p.Name) {
			continue
		}

		s, ok, err := x.classify(record, p)
		if err != nil {
			return nil, err
		}

		if ok {
			wave = append(wave, s)
		}
	}

	return wave, nil
}

func (x *execution) classify(record models.WorkflowRecord, p registry.PlannedStage) (step, bool, error) {
	s := step{PlannedStage: p, kind: stepRun}

	if p.Collapsed {
		s.kind = stepCollapse
	}

	_, canSpeculate := p.Stage.(stages.Speculator)

	for _, dep := range p.DependsOn {
		settled, satisfied := x.dependency(record, dep)
		if !settled {
			return step{}, false, nil
		}

		if !satisfied {
			return x.unsatisfied(p, dep)
		}
	}

	for _, dep := range p.SoftDependsOn {
		settled, satisfied := x.dependency(record, dep)
		if !settled {
			if _, resolved := record.LatestOutcome(dep); !resolved && x.strategy.Speculative() && canSpeculate && !p.Collapsed {
				s.kind = stepSpeculate

				continue
			}

			return step{}, false, nil
		}

		if !satisfied {
			return x.unsatisfied(p, dep)
		}
	}

	return s, true, nil
}

func (x *execution) unsatisfied(p registry.PlannedStage, dep string) (step, bool, error) {
	if p.Mandatory {
		return step{}, false, fmt.Errorf("%w: mandatory stage %s depends on %s, which did not complete",
			ErrStrategyViolation, p.Name, dep)
	}

	return step{PlannedStage: p, kind: stepSkip, reason: "dependency " + dep + " did not complete"}, true, nil
}

// dependency reports whether dep has a final result and whether that result can be built on.
// Stages outside the plan never block. A speculative result counts as settled only once the
// stages it speculated on have resolved and it has been reconciled.
func (x *execution) dependency(record models.WorkflowRecord, dep string) (settled, satisfied bool) {
	planned, ok := x.lookup(dep)
	if !ok {
		return true, true
	}

	latest, ok := record.LatestOutcome(dep)
	if !ok {
		return false, false
	}

	if latest.Phase == models.StagePhasePreliminary && !x.softResolved(record, planned) {
		return false, false
	}

	switch latest.Status {
	case models.StageStatusCompleted:
		return true, true
	case models.StageStatusSkipped:
		return true, planned.Collapsed
	case models.StageStatusFailed:
		return true, false
	default:
		return true, false
	}
}

func (x *execution) softResolved(record models.WorkflowRecord, p registry.PlannedStage) bool {
	for _, dep := range p.SoftDependsOn {
		if _, planned := x.lookup(dep); planned && !record.Resolved(dep) {
			return false
		}
	}

	return true
}

func (x *execution) lookup(name string) (registry.PlannedStage, bool) {
	for _, p := range x.plan {
		if p.Name == name {
			return p, true
		}
	}

	return registry.PlannedStage{}, false
}

// guard re-checks dependency order right before a stage runs.
func (x *execution) guard(record models.WorkflowRecord, s step) error {
	deps := s.DependsOn
	if s.kind != stepSpeculate {
		deps = append(deps[:len(deps):len(deps)], s.SoftDependsOn...)
	}

	for _, dep := range deps {
		if _, satisfied := x.dependency(record, dep); !satisfied {
			return fmt.Errorf("%w: stage %s started before %s completed", ErrStrategyViolation, s.Name, dep)
		}
	}

	return nil
}

func (x *execution) runWave(ctx context.Context, wave []step) error {
	var g errgroup.Group

	for _, s := range wave {
		switch s.kind {
		case stepCollapse:
			if err := x.collapse(ctx, s); err != nil {
				return err
			}
		case stepSkip:
			x.skip(ctx, s)
		case stepRun, stepSpeculate:
			g.Go(func() error {
				return x.runStep(ctx, s)
			})
		}
	}

	return g.Wait()
}

// runStep invokes one stage. Only a mandatory failure is returned; the other stages of the wave
// still finish and have their outcomes recorded.
func (x *execution) runStep(ctx context.Context, s step) error {
	record := x.handle.Status()

	phase := models.StagePhaseFinal
	input := record.Claim.Clone()

	if s.kind == stepSpeculate {
		phase = models.StagePhasePreliminary
		input = s.Stage.(stages.Speculator).Speculate(input)
	}

	if err := x.guard(record, s); err != nil {
		now := x.engine.clock.Now()
		x.resolve(ctx, s.PlannedStage, failedOutcome(s.PlannedStage, phase, now, now, 0, err), input, nil)

		return err
	}

	outcome, result, err := x.invoke(ctx, s.PlannedStage, input, phase)
	x.resolve(ctx, s.PlannedStage, outcome, input, result)

	if err != nil && s.Mandatory {
		return err
	}

	return nil
}

func (x *execution) invoke(
	ctx context.Context,
	p registry.PlannedStage,
	input models.ClaimContext,
	phase models.StagePhase,
) (models.StageOutcome, *stages.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, x.engine.tracer, "claim.stage",
		attribute.String(otelhelper.StageNameKey, p.Name),
		attribute.String(otelhelper.StagePhaseKey, string(phase)),
	)
	defer span.End()

	x.update(ctx, func(r *models.WorkflowRecord) {
		r.CurrentStage = p.Name
	})

	started := x.engine.clock.Now()

	result, attempts, err := x.engine.retry.Invoke(ctx, p.Stage, input, func(err error, attempt int, wait time.Duration) {
		x.logger.WarnContext(ctx, "Stage attempt failed, retrying",
			"stage", p.Name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})

	span.SetAttributes(attribute.Int(otelhelper.AttemptKey, attempts))

	ended := x.engine.clock.Now()

	if err != nil {
		err = &StageError{Stage: p.Name, Attempt: attempts, Err: err}
		otelhelper.SetError(span, err, attribute.String(otelhelper.ErrorKindKey, string(Classify(err))))

		return failedOutcome(p, phase, started, ended, attempts, err), nil, err
	}

	return models.StageOutcome{
		Stage:     p.Name,
		Status:    models.StageStatusCompleted,
		Phase:     phase,
		Mandatory: p.Mandatory,
		StartedAt: started,
		EndedAt:   ended,
		Attempts:  attempts,
		Retries:   attempts - 1,
		Payload:   result.Payload,
	}, &result, nil
}

func failedOutcome(p registry.PlannedStage, phase models.StagePhase, started, ended time.Time, attempts int, err error) models.StageOutcome {
	return models.StageOutcome{
		Stage:     p.Name,
		Status:    models.StageStatusFailed,
		Phase:     phase,
		Mandatory: p.Mandatory,
		StartedAt: started,
		EndedAt:   ended,
		Attempts:  attempts,
		Retries:   max(attempts-1, 0),
		Error:     err.Error(),
		ErrorKind: Classify(err),
	}
}

// resolve appends the outcome, merges the stage's sections and advances progress in one
// serialized write. It returns the audit entries the merge produced.
func (x *execution) resolve(
	ctx context.Context,
	p registry.PlannedStage,
	outcome models.StageOutcome,
	input models.ClaimContext,
	result *stages.Result,
) []models.AuditEntry {
	var audit []models.AuditEntry

	record := x.update(ctx, func(r *models.WorkflowRecord) {
		first := !r.Resolved(p.Name)

		r.Outcomes = append(r.Outcomes, outcome)

		if result != nil {
			audit = r.Claim.Apply(p.Name, input, result.Claim, outcome.EndedAt)
		}

		if first && !p.Collapsed {
			r.CurrentStep++
		}

		r.CurrentStage = p.Name
		r.Progress = progress(r)
	})

	switch outcome.Status {
	case models.StageStatusCompleted:
		x.logger.InfoContext(ctx, "Stage completed",
			"stage", p.Name,
			"phase", outcome.Phase,
			"attempts", outcome.Attempts,
			"step", record.CurrentStep,
			"progress", record.Progress,
		)
		x.publish(ctx, events.StageCompleted{
			BaseEvent:  x.base(events.StageCompletedEvent),
			Stage:      p.Name,
			Phase:      outcome.Phase,
			Attempts:   outcome.Attempts,
			DurationMs: outcome.EndedAt.Sub(outcome.StartedAt).Milliseconds(),
			Step:       record.CurrentStep,
			Progress:   record.Progress,
		})
	case models.StageStatusFailed:
		x.logger.ErrorContext(ctx, "Stage failed",
			"stage", p.Name,
			"mandatory", p.Mandatory,
			"attempts", outcome.Attempts,
			"error_kind", outcome.ErrorKind,
			"error", outcome.Error,
		)
		x.publish(ctx, events.StageFailed{
			BaseEvent: x.base(events.StageFailedEvent),
			Stage:     p.Name,
			Mandatory: p.Mandatory,
			Attempts:  outcome.Attempts,
			Error:     outcome.Error,
			ErrorKind: outcome.ErrorKind,
		})
	case models.StageStatusSkipped:
		x.logger.InfoContext(ctx, "Stage skipped", "stage", p.Name, "reason", outcome.Error)
		x.publish(ctx, events.StageSkipped{
			BaseEvent: x.base(events.StageSkippedEvent),
			Stage:     p.Name,
		})
	}

	return audit
}

// collapse records a stage the strategy does not invoke and writes its default section.
func (x *execution) collapse(ctx context.Context, s step) error {
	record := x.handle.Status()
	if err := x.guard(record, s); err != nil {
		return err
	}

	now := x.engine.clock.Now()
	input := record.Claim.Clone()
	result := &stages.Result{Claim: s.Collapse(input.Clone())}

	x.resolve(ctx, s.PlannedStage, models.StageOutcome{
		Stage:     s.Name,
		Status:    models.StageStatusSkipped,
		Mandatory: s.Mandatory,
		StartedAt: now,
		EndedAt:   now,
		Payload:   map[string]any{"collapsed": true, "strategy": string(x.strategy)},
	}, input, result)

	return nil
}

func (x *execution) skip(ctx context.Context, s step) {
	now := x.engine.clock.Now()

	x.resolve(ctx, s.PlannedStage, models.StageOutcome{
		Stage:     s.Name,
		Status:    models.StageStatusSkipped,
		Mandatory: s.Mandatory,
		StartedAt: now,
		EndedAt:   now,
		Error:     s.reason,
	}, models.ClaimContext{}, nil)
}

// reconcile re-runs speculative stages whose result no longer agrees with the claim once the
// stages they speculated on have resolved.
func (x *execution) reconcile(ctx context.Context) error {
	if !x.strategy.Speculative() {
		return nil
	}

	for _, p := range x.plan {
		speculator, ok := p.Stage.(stages.Speculator)
		if !ok {
			continue
		}

		record := x.handle.Status()

		latest, ok := record.LatestOutcome(p.Name)
		if !ok || latest.Phase != models.StagePhasePreliminary || latest.Status != models.StageStatusCompleted {
			continue
		}

		if !x.softResolved(record, p) || speculator.Consistent(record.Claim) {
			continue
		}

		s := step{PlannedStage: p, kind: stepRun}

		if err := x.guard(record, s); err != nil {
			if p.Mandatory {
				return err
			}

			continue
		}

		if x.handle.cancelRequested() {
			return ErrCancelled
		}

		input := record.Claim.Clone()
		outcome, result, err := x.invoke(ctx, p, input, models.StagePhaseReconciled)
		audit := x.resolve(ctx, p, outcome, input, result)

		if err != nil {
			if p.Mandatory {
				return err
			}

			continue
		}

		x.logger.InfoContext(ctx, "Speculative result reconciled", "stage", p.Name, "overwritten_sections", len(audit))
		x.publish(ctx, events.StageReconciled{
			BaseEvent: x.base(events.StageReconciledEvent),
			Stage:     p.Name,
			Attempts:  outcome.Attempts,
			Audit:     audit,
		})
	}

	return nil
}

// verify holds the completion rule: every mandatory stage completed (or collapsed) and every
// speculating stage consistent with the final claim.
func (x *execution) verify() error {
	record := x.handle.Status()

	for _, p := range x.plan {
		latest, ok := record.LatestOutcome(p.Name)

		if p.Mandatory {
			if !ok {
				return fmt.Errorf("%w: mandatory stage %s did not run", ErrStrategyViolation, p.Name)
			}

			collapsed := p.Collapsed && latest.Status == models.StageStatusSkipped
			if latest.Status != models.StageStatusCompleted && !collapsed {
				return fmt.Errorf("%w: mandatory stage %s is %s", ErrStrategyViolation, p.Name, latest.Status)
			}
		}

		if !ok || latest.Status != models.StageStatusCompleted {
			continue
		}

		if speculator, ok := p.Stage.(stages.Speculator); ok && !speculator.Consistent(record.Claim) {
			return fmt.Errorf("%w: %s result is inconsistent with the claim", ErrStrategyViolation, p.Name)
		}
	}

	return nil
}

func (x *execution) fail(ctx context.Context, err error) {
	kind := Classify(err)

	record := x.update(ctx, func(r *models.WorkflowRecord) {
		now := x.engine.clock.Now()
		r.Status = models.WorkflowStatusFailed
		r.Error = err.Error()
		r.ErrorKind = kind
		r.CompletedAt = &now
	})

	x.engine.aggregator.Observe(record)

	x.logger.ErrorContext(ctx, "Workflow failed",
		"error_kind", kind,
		"error", err,
		"step", record.CurrentStep,
		"total_steps", record.TotalSteps,
	)

	x.publish(ctx, events.WorkflowFailed{
		BaseEvent: x.base(events.WorkflowFailedEvent),
		Strategy:  x.strategy,
		Error:     record.Error,
		ErrorKind: kind,
		Duration:  record.Duration(),
	})
}

func (x *execution) complete(ctx context.Context) {
	record := x.update(ctx, func(r *models.WorkflowRecord) {
		now := x.engine.clock.Now()
		r.Status = models.WorkflowStatusCompleted
		r.CurrentStage = ""
		r.CompletedAt = &now
	})

	x.engine.aggregator.Observe(record)

	completed := events.WorkflowCompleted{
		BaseEvent: x.base(events.WorkflowCompletedEvent),
		Strategy:  x.strategy,
		Duration:  record.Duration(),
	}

	if record.Claim.Risk != nil {
		completed.RiskCategory = record.Claim.Risk.Category
	}

	if record.Claim.Routing != nil {
		completed.ProcessingPath = record.Claim.Routing.ProcessingPath
	}

	x.logger.InfoContext(ctx, "Workflow completed",
		"duration", record.Duration(),
		"risk_category", completed.RiskCategory,
		"processing_path", completed.ProcessingPath,
	)

	x.publish(ctx, completed)
}

func (x *execution) update(ctx context.Context, fn func(r *models.WorkflowRecord)) models.WorkflowRecord {
	return x.engine.store.update(ctx, x.handle.tracked, fn)
}

func progress(r *models.WorkflowRecord) float64 {
	if r.TotalSteps == 0 {
		return 1
	}

	return min(float64(r.CurrentStep)/float64(r.TotalSteps), 1)
}
