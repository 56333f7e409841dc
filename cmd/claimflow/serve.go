package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the claim intake API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "metrics-report-schedule",
				Usage:   "Cron schedule for logging aggregate metrics (overrides the policy file, \"off\" disables)",
				Sources: cli.EnvVars("METRICS_REPORT_SCHEDULE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, command, "claimflow-api")
			if err != nil {
				return err
			}

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				rt.Close(closeCtx)
			}()

			if err := subscribeEventLog(ctx, rt.eventBus, rt.logger); err != nil {
				return err
			}

			schedule := rt.policy.MetricsReport
			if s := command.String("metrics-report-schedule"); s != "" {
				schedule = s
			}

			if schedule != "off" && schedule != "" {
				reporter, err := NewMetricsReporter(rt.logger, rt.engine, schedule)
				if err != nil {
					return err
				}

				reporter.Start()
				defer reporter.Stop()
			}

			api := NewAPI(rt.logger, rt.engine, rt.gatherer)

			serveErr := make(chan error, 1)

			go func() {
				serveErr <- api.Start(command.Int("port"))
			}()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
			}

			rt.logger.Info("Shutting down claimflow API")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := api.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			return nil
		},
	}
}
