package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/claimflow/pkg/models"
)

const (
	defaultModel       = "gpt-3.5-turbo"
	defaultTemperature = 0.3
	defaultMaxTokens   = 2000
)

var (
	ErrEmptyResponse  = errors.New("generator returned no content")
	ErrNotConfigured  = errors.New("generator base URL is not configured")
	ErrRequestRefused = errors.New("generator refused the request")
)

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// ChatClient generates documentation through an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	logger  *slog.Logger
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

func NewChatClient(logger *slog.Logger, cfg ChatConfig) *ChatClient {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ChatClient{
		logger:  logger.With("module", "generator", "model", model),
		baseURL: normalizeBaseURL(cfg.BaseURL),
		model:   model,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (c *ChatClient) Name() string {
	return "chat:" + c.model
}

// Generate renders the task prompt and asks the model for a completion. Network failures,
// timeouts, 429 and 5xx responses are transient; other 4xx responses are permanent.
func (c *ChatClient) Generate(ctx context.Context, prompt PromptContext) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	text, err := Prompt(prompt)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: text}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		c.logger.WarnContext(ctx, "generator request failed", "claim_id", prompt.ClaimID, "error", err)

		return "", models.NewTransientError("generate "+string(prompt.Task), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)

		return "", models.NewTransientError("generate "+string(prompt.Task), fmt.Errorf("status %s", resp.Status))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %s", ErrRequestRefused, resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}

	return trimmed + "/v1"
}
