package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/mocks"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/memory"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/stages"
	"github.com/dukex/claimflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockedEngine(t *testing.T, p persistence.Persistence, cfg Config) *Engine {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	reg, err := registry.Default(logger, defaultSet(t))
	require.NoError(t, err)

	cfg.Retry = fastRetryPolicy()

	engine, err := NewEngine(context.Background(), logger, reg, p, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		_ = engine.Shutdown(ctx)
	})

	return engine
}

func TestEngine_SaveFailureKeepsLiveRecordAuthoritative(t *testing.T) {
	p := &mocks.MockPersistence{}
	p.On("ListAll", mock.Anything).Return([]*models.WorkflowRecord{}, nil)
	p.On("Load", mock.Anything, "CLM-SAVE").Return(nil, persistence.ErrRecordNotFound)
	p.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	p.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	engine := newMockedEngine(t, p, DefaultConfig())

	handle, err := engine.Submit(context.Background(), baseClaim("CLM-SAVE"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, record.Status)

	status, err := engine.Status(context.Background(), "CLM-SAVE")
	require.NoError(t, err)
	assert.Equal(t, record.WorkflowID, status.WorkflowID)
	assert.Equal(t, models.WorkflowStatusCompleted, status.Status)

	p.AssertNumberOfCalls(t, "Load", 1)
}

func TestEngine_RejectsSubmissionWhenInitialSaveFails(t *testing.T) {
	p := &mocks.MockPersistence{}
	p.On("ListAll", mock.Anything).Return([]*models.WorkflowRecord{}, nil)
	p.On("Load", mock.Anything, "CLM-DOWN").Return(nil, persistence.ErrRecordNotFound)
	p.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	engine := newMockedEngine(t, p, DefaultConfig())

	_, err := engine.Submit(context.Background(), baseClaim("CLM-DOWN"))
	require.ErrorContains(t, err, "connection refused")
	assert.Zero(t, engine.Metrics().TotalSeen)
}

func TestEngine_PublishFailureDoesNotFailWorkflow(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "CLM-PUB", mock.Anything).Return(errors.New("broker unavailable"))

	cfg := DefaultConfig()
	cfg.Publisher = bus

	engine := newMockedEngine(t, memory.NewPersistence(), cfg)

	claim := testutil.CreateTestClaim(testutil.WithClaimType("windshield", 200), func(c *models.ClaimContext) {
		c.ClaimID = "CLM-PUB"
	})

	handle, err := engine.Submit(context.Background(), claim)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	record, err := handle.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, record.Status)
	assert.Equal(t, models.StrategyFastTrack, record.Strategy)

	bus.AssertCalled(t, "Publish", mock.Anything, "CLM-PUB", mock.Anything)
}

func TestEngine_StatusDoesNotWaitForStalledPersistence(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	set := defaultSet(t)
	g := newGate()
	set.Intake = g.stage(stages.NameIntake, set.Intake)

	reg, err := registry.Default(logger, set)
	require.NoError(t, err)

	p := newStallingPersistence(memory.NewPersistence())

	cfg := DefaultConfig()
	cfg.Retry = fastRetryPolicy()
	cfg.Retry.StageTimeout = time.Minute

	engine, err := NewEngine(context.Background(), logger, reg, p, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		_ = engine.Shutdown(ctx)
	})

	glass := baseClaim("CLM-DONE")
	glass.Type = "windshield"
	glass.Amount = 200

	done, err := engine.Submit(context.Background(), glass)
	require.NoError(t, err)

	<-g.entered

	hang, err := engine.Submit(context.Background(), baseClaim("CLM-HANG"))
	require.NoError(t, err)

	p.stall("CLM-HANG")
	close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	finished, err := done.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStatusCompleted, finished.Status, finished.Error)

	require.Equal(t, "CLM-HANG", <-p.entered)

	within(t, time.Second, "status of a workflow with a stalled save", func() {
		status, err := engine.Status(context.Background(), "CLM-HANG")
		assert.NoError(t, err)
		assert.Equal(t, hang.WorkflowID, status.WorkflowID)
		assert.False(t, status.Status.IsTerminal())
	})

	p.stall("CLM-NEW")

	submitted := make(chan error, 1)

	go func() {
		_, err := engine.Submit(context.Background(), baseClaim("CLM-NEW"))
		submitted <- err
	}()

	for claimID := range p.entered {
		if claimID == "CLM-NEW" {
			break
		}
	}

	within(t, time.Second, "status of another claim during a stalled submission", func() {
		status, err := engine.Status(context.Background(), "CLM-DONE")
		assert.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusCompleted, status.Status)

		_, _, err = engine.List(context.Background(), Filter{})
		assert.NoError(t, err)
	})

	close(p.release)
	require.NoError(t, <-submitted)

	record, err := hang.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, record.Status, record.Error)
}
