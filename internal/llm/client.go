// internal/llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tax-concierge/internal/common/config"
	stderrors "tax-concierge/internal/common/errors"
	"tax-concierge/internal/common/httpx"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/metrics"
)

// Message is one chat turn sent to a completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call. Structured forces the
// provider into JSON mode so the output can be schema-validated.
type CompletionRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Structured  bool
}

// CompletionClient is the interface the pipeline stages depend on.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Client walks an ordered provider chain. Each provider gets one attempt
// within the configured timeout; the first success wins. When the whole
// chain fails the caller receives PROVIDERS_EXHAUSTED and is expected to
// degrade to its local fallback.
type Client struct {
	providers  []config.ProviderConfig
	httpClient *httpx.Client
	timeout    time.Duration
	maxTokens  int
	logger     logger.Logger
}

func NewClient(cfg *config.Config, log logger.Logger) *Client {
	providers := append(
		[]config.ProviderConfig{cfg.Providers.Completion.Primary},
		cfg.Providers.Completion.Fallbacks...,
	)
	timeout := config.GetDuration(cfg.Providers.Completion.Timeout)

	return &Client{
		providers:  providers,
		httpClient: httpx.NewClient(0), // per-call context deadlines only
		timeout:    timeout,
		maxTokens:  cfg.Providers.Completion.MaxTokens,
		logger:     log.WithFields(map[string]interface{}{"component": "completion"}),
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	var lastErr error
	for i, provider := range c.providers {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		text, err := c.completeOnce(attemptCtx, provider, req)
		cancel()

		if err == nil {
			return text, nil
		}
		lastErr = err

		c.logger.Warn("completion provider failed", map[string]interface{}{
			"provider": provider.Name,
			"error":    err.Error(),
		})

		if i+1 < len(c.providers) {
			metrics.ProviderFallbacks.WithLabelValues(provider.Name, c.providers[i+1].Name).Inc()
		}

		if ctx.Err() != nil {
			break
		}
	}

	return "", stderrors.NewProvidersExhaustedError(len(c.providers), lastErr)
}

func (c *Client) completeOnce(ctx context.Context, provider config.ProviderConfig, req CompletionRequest) (string, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	requestBody := map[string]interface{}{
		"model":       provider.Model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if req.Structured {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	body, _ := json.Marshal(requestBody)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", provider.BaseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", stderrors.NewCompletionFailedError(provider.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", stderrors.NewCompletionTimeoutError(provider.Name)
		}
		return "", stderrors.NewCompletionFailedError(provider.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", stderrors.NewCompletionFailedError(provider.Name, fmt.Errorf("status %d", resp.StatusCode))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", stderrors.NewCompletionFailedError(provider.Name, fmt.Errorf("decode error: %w", err))
	}

	if len(apiResponse.Choices) == 0 || strings.TrimSpace(apiResponse.Choices[0].Message.Content) == "" {
		return "", stderrors.NewCompletionFailedError(provider.Name, fmt.Errorf("empty completion"))
	}

	return apiResponse.Choices[0].Message.Content, nil
}

// DecodeJudgment parses a structured completion into a map, tolerating the
// markdown code fences some models wrap JSON in.
func DecodeJudgment(raw string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
