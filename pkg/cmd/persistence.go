// Package cmd builds the runtime collaborators selected by command line configuration.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/file"
	"github.com/dukex/claimflow/pkg/persistence/memory"
	"github.com/dukex/claimflow/pkg/persistence/postgresql"
	"github.com/dukex/claimflow/pkg/persistence/redis"
)

// NewPersistence selects a backend by the URL scheme: file://, postgres://, postgresql://,
// redis://, rediss:// or memory://. A bare path is treated as a file store root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		logger.InfoContext(ctx, "Using in-memory persistence")

		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		return redis.NewPersistence(ctx, logger, databaseURL)
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("file persistence requires a directory: %q", databaseURL)
		}

		logger.InfoContext(ctx, "Using file persistence", "root", rest)

		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return strings.ToLower(provider), rest
}
