package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/cmd"
	"github.com/dukex/claimflow/pkg/config"
	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/log"
	"github.com/dukex/claimflow/pkg/metrics"
	"github.com/dukex/claimflow/pkg/otelhelper"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"k8s.io/utils/clock"
)

// runtime holds the collaborators shared by every subcommand.
type runtime struct {
	logger      *slog.Logger
	policy      config.Policy
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	gatherer    *prometheus.Registry

	shutdownTracing func(context.Context) error
}

func newRuntime(ctx context.Context, command *cli.Command, module string) (*runtime, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	rt := &runtime{logger: log.WithModule(module)}

	policy, err := loadPolicy(command)
	if err != nil {
		return nil, err
	}

	rt.policy = policy

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		var shutdown func(context.Context) error

		tracer, shutdown, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.shutdownTracing = shutdown
	}

	rt.persistence, err = cmd.NewPersistence(ctx, rt.logger, command.String("database-url"))
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.eventBus, err = cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), rt.logger)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	reg, err := cmd.NewRegistry(rt.logger, policy)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.gatherer = prometheus.NewRegistry()
	rt.gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	aggregator, err := metrics.NewAggregator(clock.RealClock{}, rt.gatherer)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.engine, err = workflow.NewEngine(ctx, rt.logger, reg, rt.persistence, workflow.Config{
		Thresholds: policy.Thresholds,
		Retry:      policy.Retry,
		Tracer:     tracer,
		Publisher:  rt.eventBus,
		Metrics:    aggregator,
	})
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	return rt, nil
}

// loadPolicy reads the policy file and applies the generator flags on top of it.
func loadPolicy(command *cli.Command) (config.Policy, error) {
	policy, err := config.LoadPolicyOrDefault(command.String("config"))
	if err != nil {
		return config.Policy{}, err
	}

	if url := command.String("generator-url"); url != "" {
		policy.Generator.BaseURL = url
	}

	if model := command.String("generator-model"); model != "" {
		policy.Generator.Model = model
	}

	if key := command.String("generator-api-key"); key != "" {
		policy.Generator.APIKey = key
	}

	if err := config.ValidatePolicy(policy); err != nil {
		return config.Policy{}, err
	}

	return policy, nil
}

// Close stops the engine and releases the backends, logging every failure.
func (rt *runtime) Close(ctx context.Context) {
	var errs []error

	if rt.engine != nil {
		errs = append(errs, rt.engine.Shutdown(ctx))
	}

	if rt.eventBus != nil {
		errs = append(errs, rt.eventBus.Close())
	}

	if rt.persistence != nil {
		errs = append(errs, rt.persistence.Close(ctx))
	}

	if rt.shutdownTracing != nil {
		errs = append(errs, rt.shutdownTracing(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		rt.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
	}
}
