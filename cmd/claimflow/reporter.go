package main

import (
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// MetricsSource provides the aggregate counters the reporter logs.
type MetricsSource interface {
	Metrics() models.AggregateMetrics
}

// MetricsReporter periodically logs the aggregate metrics.
type MetricsReporter struct {
	logger *slog.Logger
	source MetricsSource
	cron   *cron.Cron
}

func NewMetricsReporter(logger *slog.Logger, source MetricsSource, schedule string) (*MetricsReporter, error) {
	r := &MetricsReporter{
		logger: logger.With("module", "metrics_reporter"),
		source: source,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}

	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid metrics report schedule '%s': %w", schedule, err)
	}

	return r, nil
}

func (r *MetricsReporter) Start() {
	r.logger.Info("Starting metrics reporter")
	r.cron.Start()
}

// Stop halts the schedule and waits for a running report to finish.
func (r *MetricsReporter) Stop() {
	<-r.cron.Stop().Done()
}

func (r *MetricsReporter) Report() {
	m := r.source.Metrics()

	r.logger.Info("Claim processing metrics",
		"seen", m.TotalSeen,
		"completed", m.TotalCompleted,
		"failed", m.TotalFailed,
		"in_flight", m.InFlight,
		"success_rate", m.SuccessRate(),
		"avg_processing_time", m.AverageProcessingTime,
		"by_strategy", m.ByStrategy,
		"by_risk_category", m.ByRiskCategory,
	)
}
