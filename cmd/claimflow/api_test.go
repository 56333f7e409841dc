package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/cmd"
	"github.com/dukex/claimflow/pkg/config"
	"github.com/dukex/claimflow/pkg/metrics"
	"github.com/dukex/claimflow/pkg/persistence/memory"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
)

func newTestEngine(t *testing.T, reg prometheus.Registerer) *workflow.Engine {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	stageRegistry, err := cmd.NewRegistry(logger, config.DefaultPolicy())
	require.NoError(t, err)

	aggregator, err := metrics.NewAggregator(clock.RealClock{}, reg)
	require.NoError(t, err)

	cfg := workflow.DefaultConfig()
	cfg.Metrics = aggregator

	engine, err := workflow.NewEngine(context.Background(), logger, stageRegistry, memory.NewPersistence(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = engine.Shutdown(ctx)
	})

	return engine
}

func setupTestApp(t *testing.T) (*fiber.App, *workflow.Engine) {
	t.Helper()

	reg := prometheus.NewRegistry()
	engine := newTestEngine(t, reg)

	return NewAPI(slog.New(slog.DiscardHandler), engine, reg).App(), engine
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "claimflow API", body)
}

func TestAPI_Probes(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, _ = get(t, app, "/readyz")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_SubmitAndScrape(t *testing.T) {
	app, engine := setupTestApp(t)

	payload, err := json.Marshal(map[string]any{
		"claim_id":      "CLM-2024-002",
		"type":          "auto_glass",
		"date":          "2024-01-14",
		"amount":        450,
		"description":   "Cracked windshield from road debris",
		"customer_id":   "CUST-555",
		"policy_number": "POL-AUTO-111",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/claims", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		record, err := engine.Status(context.Background(), "CLM-2024-002")

		return err == nil && record.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	status, body := get(t, app, "/metrics/prometheus")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "claimflow_workflows_total")
}
