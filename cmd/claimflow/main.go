// Package main is the claimflow command: the FNOL intake API server plus batch and audit tools.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "claimflow"
	defaultPort = 9091
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  serviceName,
		Usage:                 "Orchestrate first notice of loss claims",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file://, postgres://, redis://, memory://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML policy file with thresholds, retry policy and generator settings",
				Sources: cli.EnvVars("CLAIMFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "generator-url",
				Usage:   "OpenAI compatible endpoint for claim documentation",
				Sources: cli.EnvVars("GENERATOR_URL"),
			},
			&cli.StringFlag{
				Name:    "generator-model",
				Usage:   "Model name sent to the documentation endpoint",
				Sources: cli.EnvVars("GENERATOR_MODEL"),
			},
			&cli.StringFlag{
				Name:    "generator-api-key",
				Usage:   "API key for the documentation endpoint",
				Sources: cli.EnvVars("GENERATOR_API_KEY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewProcessCommand(),
			NewAuditCommand(),
		},
	}
}
