package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultBaseURL        = "https://api.anthropic.com"
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxInputTokens = 200000
	DefaultTimeout        = 120 * time.Second

	anthropicVersion = "2023-06-01"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxInputTokens int
	Timeout        time.Duration
}

// AnthropicClient calls the Anthropic Messages API with streaming enabled.
type AnthropicClient struct {
	cfg        AnthropicConfig
	httpClient *http.Client

	// Stats tracks call latencies over a rolling window.
	Stats *Stats
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a streaming Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = DefaultMaxInputTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		Stats:      NewStats(time.Hour),
	}, nil
}

// MaxInputTokens returns the model's advertised input-token ceiling.
func (c *AnthropicClient) MaxInputTokens() int {
	return c.cfg.MaxInputTokens
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.cfg.Model
}

// Close releases idle connections.
func (c *AnthropicClient) Close() {
	c.httpClient.CloseIdleConnections()
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	Messages  []Message `json:"messages"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// streamEvent covers every SSE payload shape we care about.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error *apiError `json:"error"`
}

// Stream sends the messages and reads the SSE response, calling onDelta for
// each text fragment. Returns the accumulated response text.
func (c *AnthropicClient) Stream(ctx context.Context, msgs []Message, onDelta func(string)) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: 4096,
		Stream:    true,
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &TransientError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return "", fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	text, err := c.readStream(resp.Body, onDelta)
	if err != nil {
		return "", err
	}
	c.Stats.Record(time.Since(start).Milliseconds())
	return text, nil
}

// readStream consumes the SSE body line by line, accumulating text deltas.
func (c *AnthropicClient) readStream(r io.Reader, onDelta func(string)) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				sb.WriteString(ev.Delta.Text)
				if onDelta != nil {
					onDelta(ev.Delta.Text)
				}
			}
		case "message_delta":
			if ev.Delta.StopReason == "refusal" {
				return "", &RefusalError{Reason: "response stopped for content policy"}
			}
		case "error":
			if ev.Error != nil {
				return "", classifyAPIError(ev.Error)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	text := sb.String()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

func classifyAPIError(e *apiError) error {
	switch e.Type {
	case "overloaded_error", "rate_limit_error", "api_error", "timeout_error":
		return &TransientError{StatusCode: 0, Message: e.Type + ": " + e.Message}
	}
	return fmt.Errorf("anthropic error: %s: %s", e.Type, truncate(e.Message, 200))
}
