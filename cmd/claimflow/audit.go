package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func NewAuditCommand() *cli.Command {
	return &cli.Command{
		Name:    "audit",
		Aliases: []string{"a"},
		Usage:   "List stored claim workflows or show one claim's history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "claim",
				Usage: "Print every record of this claim as JSON",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only list records with this status",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Only list records with this strategy",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records, 0 for all",
				Value: 50,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := newRuntime(ctx, command, "claimflow-audit")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			out := command.Root().Writer

			if claimID := command.String("claim"); claimID != "" {
				records, err := rt.engine.History(ctx, claimID)
				if err != nil {
					return err
				}

				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")

				return encoder.Encode(records)
			}

			records, total, err := rt.engine.List(ctx, workflow.Filter{
				Status:   models.WorkflowStatus(command.String("status")),
				Strategy: models.Strategy(command.String("strategy")),
				Limit:    command.Int("limit"),
			})
			if err != nil {
				return err
			}

			return writeAuditTable(out, records, total, rt.engine.Metrics())
		},
	}
}

func writeAuditTable(out io.Writer, records []models.WorkflowRecord, total int, m models.AggregateMetrics) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "CLAIM\tSTATUS\tSTRATEGY\tRISK\tPROGRESS\tUPDATED\tERROR")

	for _, record := range records {
		risk := "-"
		if record.Claim.Risk != nil {
			risk = string(record.Claim.Risk.Category)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			record.ClaimID,
			record.Status,
			record.Strategy,
			risk,
			record.Progress*100,
			record.UpdatedAt.Format(time.RFC3339),
			record.Error,
		)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\n%d of %d claims, %d completed, %d failed, success rate %.1f%%\n",
		len(records), total, m.TotalCompleted, m.TotalFailed, m.SuccessRate()*100)

	return err
}
