package generator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaim() models.ClaimContext {
	tenure := 400

	return models.ClaimContext{
		ClaimID:            "CLM-2024-001",
		Type:               "property_damage",
		Amount:             8500,
		Description:        "Water damage in kitchen",
		CustomerID:         "CUST-1",
		PolicyNumber:       "POL-1",
		CustomerTenureDays: &tenure,
		SubmittedAt:        time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
		Validation:         &models.ValidationResult{Valid: true, NormalizedDate: "2024-01-14"},
		Risk:               &models.RiskAssessment{Score: 3, Category: models.RiskLow, Reasons: []string{"Incomplete data"}},
		Routing: &models.RoutingDecision{
			Priority:       models.PriorityNormal,
			AdjusterTier:   models.AdjusterStandard,
			ProcessingPath: "normal/standard",
		},
	}
}

func TestNewPromptContext(t *testing.T) {
	p := NewPromptContext(TaskSummary, testClaim())

	assert.Equal(t, "2024-01-14", p.Date)
	assert.Equal(t, "N/A", p.Location)
	assert.Equal(t, "400 days", p.CustomerTenure)
	assert.Equal(t, "Valid", p.ValidationStatus)
	assert.Equal(t, "LOW", p.RiskLevel)
	assert.Equal(t, "normal/standard", p.ProcessingPath)

	bare := NewPromptContext(TaskReport, models.ClaimContext{ClaimID: "CLM-2"})
	assert.Equal(t, "N/A", bare.RiskLevel)
	assert.Equal(t, "N/A", bare.Priority)
	assert.Equal(t, "N/A", bare.CustomerTenure)
}

func TestPrompt(t *testing.T) {
	summary, err := Prompt(NewPromptContext(TaskSummary, testClaim()))
	require.NoError(t, err)
	assert.Contains(t, summary, "Claim ID: CLM-2024-001")
	assert.Contains(t, summary, "Amount: $8500.00")

	report, err := Prompt(NewPromptContext(TaskReport, testClaim()))
	require.NoError(t, err)
	assert.Contains(t, report, "Risk Reasons: Incomplete data")
	assert.Contains(t, report, "5. RECOMMENDATIONS")

	_, err = Prompt(PromptContext{Task: "poem"})
	require.Error(t, err)
}

func TestTemplate_Generate(t *testing.T) {
	g := NewTemplate()

	summary, err := g.Generate(context.Background(), NewPromptContext(TaskSummary, testClaim()))
	require.NoError(t, err)
	assert.Equal(t, "Claim CLM-2024-001 (property_damage) for $8500.00 was assessed at risk 3/10 (LOW) and routed normal/standard.", summary)

	report, err := g.Generate(context.Background(), NewPromptContext(TaskReport, testClaim()))
	require.NoError(t, err)
	assert.Contains(t, report, "RISK ASSESSMENT")
	assert.Contains(t, report, "- Incomplete data")
}

func TestChatClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.Len(t, body.Messages, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  A concise summary.  "}},
			},
		})
	}))
	defer server.Close()

	client := NewChatClient(slog.Default(), ChatConfig{BaseURL: server.URL, Model: "test-model", APIKey: "secret"})

	text, err := client.Generate(context.Background(), NewPromptContext(TaskSummary, testClaim()))
	require.NoError(t, err)
	assert.Equal(t, "A concise summary.", text)
	assert.Equal(t, "chat:test-model", client.Name())
}

func TestChatClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "server error is transient", status: http.StatusBadGateway, transient: true},
		{name: "rate limit is transient", status: http.StatusTooManyRequests, transient: true},
		{name: "bad request is permanent", status: http.StatusBadRequest, transient: false},
		{name: "unauthorized is permanent", status: http.StatusUnauthorized, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewChatClient(slog.Default(), ChatConfig{BaseURL: server.URL})

			_, err := client.Generate(context.Background(), NewPromptContext(TaskSummary, testClaim()))
			require.Error(t, err)
			assert.Equal(t, tt.transient, errorIsTransient(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestChatClient_UnreachableIsTransient(t *testing.T) {
	client := NewChatClient(slog.Default(), ChatConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := client.Generate(context.Background(), NewPromptContext(TaskSummary, testClaim()))
	require.Error(t, err)
	assert.True(t, errorIsTransient(err))
}

func TestChatClient_NotConfigured(t *testing.T) {
	client := NewChatClient(slog.Default(), ChatConfig{})

	_, err := client.Generate(context.Background(), NewPromptContext(TaskSummary, testClaim()))
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:1234/v1", normalizeBaseURL("localhost:1234"))
	assert.Equal(t, "https://api.example.com/v1", normalizeBaseURL("https://api.example.com/v1/"))
	assert.Empty(t, normalizeBaseURL("  "))
}

func errorIsTransient(err error) bool {
	return errors.Is(err, models.ErrTransientDependency)
}
