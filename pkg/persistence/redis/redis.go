// Package redis provides Redis persistence for workflow records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "claimflow"

// Persistence stores each record as a JSON string and indexes them per claim in a sorted set
// scored by creation time.
//
//	<prefix>:record:<workflow id>  record JSON
//	<prefix>:claim:<claim id>      zset of workflow ids
//	<prefix>:claims                set of claim ids
type Persistence struct {
	client goredis.UniversalClient
	logger *slog.Logger
	prefix string
}

// NewPersistence connects to the Redis server described by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	opts, err := goredis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	p := NewWithClient(logger, goredis.NewClient(opts), defaultPrefix)

	if err := p.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return p, nil
}

// NewWithClient wraps an existing client, keeping every key under prefix.
func NewWithClient(logger *slog.Logger, client goredis.UniversalClient, prefix string) *Persistence {
	return &Persistence{client: client, logger: logger, prefix: prefix}
}

func (p *Persistence) recordKey(workflowID string) string {
	return p.prefix + ":record:" + workflowID
}

func (p *Persistence) claimKey(claimID string) string {
	return p.prefix + ":claim:" + claimID
}

func (p *Persistence) claimsKey() string {
	return p.prefix + ":claims"
}

func (p *Persistence) Save(ctx context.Context, record *models.WorkflowRecord) error {
	if err := persistence.ValidateIdentifier(record.ClaimID); err != nil {
		return persistence.NewRecordError("Save", record.ClaimID, record.WorkflowID, err)
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow record %s: %w", record.WorkflowID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, p.recordKey(record.WorkflowID), body, 0)
		pipe.ZAdd(ctx, p.claimKey(record.ClaimID), goredis.Z{
			Score:  float64(record.CreatedAt.UnixMicro()),
			Member: record.WorkflowID,
		})
		pipe.SAdd(ctx, p.claimsKey(), record.ClaimID)

		return nil
	})
	if err != nil {
		return persistence.NewRecordError("Save", record.ClaimID, record.WorkflowID, err)
	}

	return nil
}

func (p *Persistence) Load(ctx context.Context, claimID string) (*models.WorkflowRecord, error) {
	records, err := p.records(ctx, claimID, 0)
	if err != nil {
		return nil, persistence.NewRecordError("Load", claimID, "", err)
	}

	return records[0], nil
}

func (p *Persistence) History(ctx context.Context, claimID string) ([]*models.WorkflowRecord, error) {
	records, err := p.records(ctx, claimID, -1)
	if err != nil {
		return nil, persistence.NewRecordError("History", claimID, "", err)
	}

	return records, nil
}

func (p *Persistence) ListAll(ctx context.Context) ([]*models.WorkflowRecord, error) {
	claimIDs, err := p.client.SMembers(ctx, p.claimsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}

	records := make([]*models.WorkflowRecord, 0, len(claimIDs))

	for _, claimID := range claimIDs {
		current, err := p.records(ctx, claimID, 0)
		if err != nil {
			if errors.Is(err, persistence.ErrRecordNotFound) {
				continue
			}

			return nil, err
		}

		records = append(records, current[0])
	}

	persistence.SortNewestFirst(records)

	return records, nil
}

// records returns the claim's records newest first, up to index stop (-1 for all).
func (p *Persistence) records(ctx context.Context, claimID string, stop int64) ([]*models.WorkflowRecord, error) {
	ids, err := p.client.ZRevRange(ctx, p.claimKey(claimID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim index: %w", err)
	}

	if len(ids) == 0 {
		return nil, persistence.ErrRecordNotFound
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.recordKey(id)
	}

	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow records: %w", err)
	}

	records := make([]*models.WorkflowRecord, 0, len(values))

	for i, value := range values {
		body, ok := value.(string)
		if !ok {
			p.logger.WarnContext(ctx, "Dangling workflow record in claim index", "claim_id", claimID, "workflow_id", ids[i])

			continue
		}

		var record models.WorkflowRecord
		if err := json.Unmarshal([]byte(body), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow record %s: %w", ids[i], err)
		}

		records = append(records, &record)
	}

	if len(records) == 0 {
		return nil, persistence.ErrRecordNotFound
	}

	persistence.SortNewestFirst(records)

	return records, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}
