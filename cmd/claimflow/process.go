package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func NewProcessCommand() *cli.Command {
	return &cli.Command{
		Name:    "process",
		Aliases: []string{"p"},
		Usage:   "Run a file of claims through the engine and print the outcomes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "JSON file holding one claim or an array of claims, - for stdin",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "reprocess",
				Usage: "Run claims that already finished again instead of rejecting them",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to wait for the batch",
				Value: 2 * time.Minute,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			claims, err := loadClaims(command.String("file"))
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, command, "claimflow-process")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			waitCtx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			results := processClaims(waitCtx, rt.engine, claims, command.Bool("reprocess"))

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			return encoder.Encode(batchOutput{Results: results, Metrics: rt.engine.Metrics()})
		},
	}
}

// ProcessResult is the printed outcome of one claim.
type ProcessResult struct {
	ClaimID        string                `json:"claim_id"`
	WorkflowID     string                `json:"workflow_id,omitempty"`
	Status         models.WorkflowStatus `json:"status,omitempty"`
	Strategy       models.Strategy       `json:"strategy,omitempty"`
	RiskCategory   models.RiskCategory   `json:"risk_category,omitempty"`
	Priority       models.Priority       `json:"priority,omitempty"`
	AdjusterTier   models.AdjusterTier   `json:"adjuster_tier,omitempty"`
	ProcessingPath string                `json:"processing_path,omitempty"`
	Duration       string                `json:"duration,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type batchOutput struct {
	Results []ProcessResult         `json:"results"`
	Metrics models.AggregateMetrics `json:"metrics"`
}

func loadClaims(path string) ([]models.ClaimContext, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read claims: %w", err)
	}

	return parseClaims(data)
}

// parseClaims accepts a single claim object or an array of claims.
func parseClaims(data []byte) ([]models.ClaimContext, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var claims []models.ClaimContext
		if err := json.Unmarshal(data, &claims); err != nil {
			return nil, fmt.Errorf("failed to parse claims: %w", err)
		}

		return claims, nil
	}

	var claim models.ClaimContext
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, fmt.Errorf("failed to parse claim: %w", err)
	}

	return []models.ClaimContext{claim}, nil
}

// processClaims submits every claim, then waits for each workflow. Submission errors are reported
// per claim and do not stop the batch.
func processClaims(ctx context.Context, engine *workflow.Engine, claims []models.ClaimContext, reprocess bool) []ProcessResult {
	results := make([]ProcessResult, len(claims))
	handles := make([]*workflow.Handle, len(claims))

	for i, claim := range claims {
		if claim.SubmittedAt.IsZero() {
			claim.SubmittedAt = time.Now().UTC()
		}

		results[i].ClaimID = claim.ClaimID

		handle, err := engine.Submit(ctx, claim)
		if err != nil && reprocess && workflow.IsDuplicate(err) {
			handle, err = engine.Submit(ctx, claim, workflow.WithReprocess())
		}

		if err != nil {
			results[i].Error = err.Error()

			continue
		}

		handles[i] = handle
	}

	for i, handle := range handles {
		if handle == nil {
			continue
		}

		record, err := handle.Wait(ctx)
		results[i] = resultFor(record)

		if err != nil && results[i].Error == "" {
			results[i].Error = err.Error()
		}
	}

	return results
}

func resultFor(record models.WorkflowRecord) ProcessResult {
	result := ProcessResult{
		ClaimID:    record.ClaimID,
		WorkflowID: record.WorkflowID,
		Status:     record.Status,
		Strategy:   record.Strategy,
		Error:      record.Error,
	}

	if record.Status.IsTerminal() {
		result.Duration = record.Duration().String()
	}

	if record.Claim.Risk != nil {
		result.RiskCategory = record.Claim.Risk.Category
	}

	if routing := record.Claim.Routing; routing != nil {
		result.Priority = routing.Priority
		result.AdjusterTier = routing.AdjusterTier
		result.ProcessingPath = routing.ProcessingPath
	}

	return result
}
