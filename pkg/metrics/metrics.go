// Package metrics aggregates system-wide counters from workflow records and exports them to Prometheus.
package metrics

import (
	"maps"
	"sync"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

const (
	strategyLabel = "strategy"
	statusLabel   = "status"
	stageLabel    = "stage"
)

// Collectors are the Prometheus series kept in step with the aggregate.
type Collectors struct {
	WorkflowsTotal   *prometheus.CounterVec
	WorkflowDuration prometheus.Histogram
	StageOutcomes    *prometheus.CounterVec
	InFlight         prometheus.Gauge
}

func newCollectors() *Collectors {
	return &Collectors{
		WorkflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimflow_workflows_total",
			Help: "Terminal claim workflows by strategy and status",
		}, []string{strategyLabel, statusLabel}),
		WorkflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "claimflow_workflow_duration_seconds",
			Help:    "Processing time of completed claim workflows in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimflow_stage_outcomes_total",
			Help: "Final stage outcomes of terminal workflows by stage and status",
		}, []string{stageLabel, statusLabel}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "claimflow_workflows_in_flight",
			Help: "Claim workflows accepted but not yet terminal",
		}),
	}
}

func (c *Collectors) register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{c.WorkflowsTotal, c.WorkflowDuration, c.StageOutcomes, c.InFlight} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collectors) reset() {
	c.WorkflowsTotal.Reset()
	c.StageOutcomes.Reset()
	c.InFlight.Set(0)
}

// Aggregator folds workflow records into AggregateMetrics. It is safe for concurrent use and
// counts every workflow id at most once per transition.
type Aggregator struct {
	mu         sync.Mutex
	clock      clock.PassiveClock
	collectors *Collectors

	seen     map[string]struct{}
	observed map[string]struct{}
	metrics  models.AggregateMetrics
	durTotal time.Duration
}

// NewAggregator registers the aggregator's collectors with reg. A nil reg skips registration.
func NewAggregator(clk clock.PassiveClock, reg prometheus.Registerer) (*Aggregator, error) {
	a := &Aggregator{
		clock:      clk,
		collectors: newCollectors(),
	}

	a.resetLocked()

	if reg != nil {
		if err := a.collectors.register(reg); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Collectors exposes the Prometheus series for tests and custom registries.
func (a *Aggregator) Collectors() *Collectors {
	return a.collectors
}

// Seen counts a newly accepted workflow.
func (a *Aggregator) Seen(record models.WorkflowRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seenLocked(record)
}

// Observe folds a terminal record into the aggregate. Non-terminal records and repeated
// observations of the same workflow are ignored. It reports whether the record was counted.
func (a *Aggregator) Observe(record models.WorkflowRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.observeLocked(record)
}

// Snapshot returns a copy of the current aggregate.
func (a *Aggregator) Snapshot() models.AggregateMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.metrics
	out.StageSuccess = maps.Clone(a.metrics.StageSuccess)
	out.StageFailure = maps.Clone(a.metrics.StageFailure)
	out.ByStrategy = maps.Clone(a.metrics.ByStrategy)
	out.ByRiskCategory = maps.Clone(a.metrics.ByRiskCategory)

	return out
}

// Rebuild discards the aggregate and recomputes it from records, typically the store's ListAll.
func (a *Aggregator) Rebuild(records []*models.WorkflowRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()
	a.collectors.reset()

	for _, record := range records {
		a.seenLocked(*record)
		a.observeLocked(*record)
	}
}

func (a *Aggregator) resetLocked() {
	a.seen = make(map[string]struct{})
	a.observed = make(map[string]struct{})
	a.durTotal = 0
	a.metrics = models.AggregateMetrics{
		StageSuccess:   make(map[string]int),
		StageFailure:   make(map[string]int),
		ByStrategy:     make(map[models.Strategy]int),
		ByRiskCategory: make(map[models.RiskCategory]int),
		UpdatedAt:      a.clock.Now(),
	}
}

func (a *Aggregator) seenLocked(record models.WorkflowRecord) {
	if _, ok := a.seen[record.WorkflowID]; ok {
		return
	}

	a.seen[record.WorkflowID] = struct{}{}
	a.metrics.TotalSeen++
	a.refreshLocked()
}

func (a *Aggregator) observeLocked(record models.WorkflowRecord) bool {
	if !record.Status.IsTerminal() {
		return false
	}

	if _, ok := a.observed[record.WorkflowID]; ok {
		return false
	}

	a.seenLocked(record)
	a.observed[record.WorkflowID] = struct{}{}

	switch record.Status {
	case models.WorkflowStatusCompleted:
		a.metrics.TotalCompleted++

		elapsed := ProcessingTime(record)
		a.durTotal += elapsed
		a.metrics.AverageProcessingTime = a.durTotal / time.Duration(a.metrics.TotalCompleted)
		a.collectors.WorkflowDuration.Observe(elapsed.Seconds())
	case models.WorkflowStatusFailed:
		a.metrics.TotalFailed++
	case models.WorkflowStatusPending, models.WorkflowStatusInProgress:
	}

	a.metrics.ByStrategy[record.Strategy]++
	a.collectors.WorkflowsTotal.WithLabelValues(string(record.Strategy), string(record.Status)).Inc()

	if record.Claim.Risk != nil {
		a.metrics.ByRiskCategory[record.Claim.Risk.Category]++
	}

	for stage, outcome := range finalOutcomes(record) {
		switch outcome.Status {
		case models.StageStatusCompleted:
			a.metrics.StageSuccess[stage]++
		case models.StageStatusFailed:
			a.metrics.StageFailure[stage]++
		case models.StageStatusSkipped:
			continue
		}

		a.collectors.StageOutcomes.WithLabelValues(stage, string(outcome.Status)).Inc()
	}

	a.refreshLocked()

	return true
}

func (a *Aggregator) refreshLocked() {
	a.metrics.InFlight = a.metrics.TotalSeen - a.metrics.TotalCompleted - a.metrics.TotalFailed
	a.metrics.UpdatedAt = a.clock.Now()
	a.collectors.InFlight.Set(float64(a.metrics.InFlight))
}

// ProcessingTime is the time from workflow creation to the end of its last mandatory stage,
// falling back to CompletedAt when no mandatory stage recorded an end time.
func ProcessingTime(record models.WorkflowRecord) time.Duration {
	var end time.Time

	for _, outcome := range record.Outcomes {
		if outcome.Mandatory && outcome.Status == models.StageStatusCompleted && outcome.EndedAt.After(end) {
			end = outcome.EndedAt
		}
	}

	if end.IsZero() {
		return record.Duration()
	}

	return end.Sub(record.CreatedAt)
}

func finalOutcomes(record models.WorkflowRecord) map[string]models.StageOutcome {
	out := make(map[string]models.StageOutcome)

	for _, outcome := range record.Outcomes {
		out[outcome.Stage] = outcome
	}

	return out
}
