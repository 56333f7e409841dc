package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"k8s.io/utils/clock"
)

// tracked is the live copy of one workflow record. Writes go through store.update, which
// changes the record under mu and persists the result outside of it, so status reads never wait
// on persistence. Each change gets a version; saves run under saveMu and skip any version older
// than the last one written.
type tracked struct {
	mu      sync.RWMutex
	record  models.WorkflowRecord
	version uint64
	saveErr error

	saveMu sync.Mutex
	saved  uint64
}

func (t *tracked) snapshot() models.WorkflowRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.record.Clone()
}

// store keeps the records of workflows started by this process and writes every change
// through to persistence.
type store struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	clock       clock.PassiveClock
	saveTimeout time.Duration

	mu      sync.Mutex
	live    map[string]*tracked
	pending map[string]struct{}
}

func newStore(logger *slog.Logger, p persistence.Persistence, clk clock.PassiveClock, saveTimeout time.Duration) *store {
	return &store{
		logger:      logger.With("module", "workflow_store"),
		persistence: p,
		clock:       clk,
		saveTimeout: saveTimeout,
		live:        make(map[string]*tracked),
		pending:     make(map[string]struct{}),
	}
}

// begin registers a new record for its claim. A claim whose current record is in flight is always
// rejected; a finished claim is accepted only when reprocess is set. The claim id is reserved
// before any persistence call so concurrent submissions of the same claim are rejected while
// other claims stay readable.
func (s *store) begin(ctx context.Context, record models.WorkflowRecord, reprocess bool) (*tracked, error) {
	claimID := record.ClaimID

	s.mu.Lock()
	if _, ok := s.pending[claimID]; ok {
		s.mu.Unlock()

		return nil, fmt.Errorf("%w: claim %s is being submitted", ErrDuplicateSubmission, claimID)
	}

	held, ok := s.live[claimID]
	s.pending[claimID] = struct{}{}
	s.mu.Unlock()

	t, err := s.admit(ctx, record, held, ok, reprocess)

	s.mu.Lock()
	delete(s.pending, claimID)

	if err == nil {
		s.live[claimID] = t
	}
	s.mu.Unlock()

	return t, err
}

func (s *store) admit(
	ctx context.Context,
	record models.WorkflowRecord,
	held *tracked,
	isLive bool,
	reprocess bool,
) (*tracked, error) {
	current, err := s.current(ctx, record.ClaimID, held, isLive)

	switch {
	case err == nil:
		if !current.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: claim %s is %s", ErrDuplicateSubmission, record.ClaimID, current.Status)
		}

		if !reprocess {
			return nil, fmt.Errorf("%w: claim %s already %s", ErrDuplicateSubmission, record.ClaimID, current.Status)
		}
	case IsNotFound(err):
		if reprocess {
			return nil, fmt.Errorf("reprocess claim %s: %w", record.ClaimID, err)
		}
	default:
		return nil, err
	}

	saveCtx, cancel := s.saveContext(ctx)
	defer cancel()

	if err := s.persistence.Save(saveCtx, &record); err != nil {
		return nil, fmt.Errorf("save workflow record: %w", err)
	}

	return &tracked{record: record}, nil
}

func (s *store) current(ctx context.Context, claimID string, held *tracked, isLive bool) (models.WorkflowRecord, error) {
	if isLive {
		return held.snapshot(), nil
	}

	loadCtx, cancel := s.saveContext(ctx)
	defer cancel()

	record, err := s.persistence.Load(loadCtx, claimID)
	if err != nil {
		return models.WorkflowRecord{}, err
	}

	return *record, nil
}

// update applies fn to the record and persists the result. Persistence failures are logged and
// kept on the tracked record; the in-memory copy stays authoritative for status reads.
func (s *store) update(ctx context.Context, t *tracked, fn func(record *models.WorkflowRecord)) models.WorkflowRecord {
	t.mu.Lock()
	fn(&t.record)
	t.record.UpdatedAt = s.clock.Now()
	t.version++

	version := t.version
	snapshot := t.record.Clone()
	t.mu.Unlock()

	s.persist(ctx, t, version, snapshot)

	return snapshot
}

func (s *store) persist(ctx context.Context, t *tracked, version uint64, snapshot models.WorkflowRecord) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	if version <= t.saved {
		return
	}

	saveCtx, cancel := s.saveContext(context.WithoutCancel(ctx))
	defer cancel()

	err := s.persistence.Save(saveCtx, &snapshot)
	t.saved = version

	t.mu.Lock()
	t.saveErr = err
	t.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist workflow record",
			"claim_id", snapshot.ClaimID,
			"workflow_id", snapshot.WorkflowID,
			"version", version,
			"error", err,
		)
	}
}

func (s *store) saveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.saveTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.saveTimeout)
}

// snapshot returns the live record of a claim, if this process holds one.
func (s *store) snapshot(claimID string) (models.WorkflowRecord, bool) {
	s.mu.Lock()
	t, ok := s.live[claimID]
	s.mu.Unlock()

	if !ok {
		return models.WorkflowRecord{}, false
	}

	return t.snapshot(), true
}

// release drops a finished record from memory once persistence holds its final state.
func (s *store) release(claimID string, t *tracked) {
	t.mu.RLock()
	keep := !t.record.Status.IsTerminal() || t.saveErr != nil
	t.mu.RUnlock()

	if keep {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live[claimID] == t {
		delete(s.live, claimID)
	}
}

// liveRecords returns snapshots of every record held in memory.
func (s *store) liveRecords() map[string]models.WorkflowRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.WorkflowRecord, len(s.live))
	for claimID, t := range s.live {
		out[claimID] = t.snapshot()
	}

	return out
}
