// internal/llm/embeddings.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tax-concierge/internal/common/config"
	stderrors "tax-concierge/internal/common/errors"
	"tax-concierge/internal/common/httpx"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint.
type EmbeddingClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *httpx.Client
	timeout    time.Duration
}

func NewEmbeddingClient(cfg *config.Config) *EmbeddingClient {
	return &EmbeddingClient{
		baseURL:    cfg.Providers.Embedding.BaseURL,
		apiKey:     cfg.Providers.Embedding.APIKey,
		model:      cfg.Providers.Embedding.Model,
		httpClient: httpx.NewClient(0),
		timeout:    config.GetDuration(cfg.Providers.Embedding.Timeout),
	}
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestBody := map[string]interface{}{
		"model": c.model,
		"input": text,
	}

	body, _ := json.Marshal(requestBody)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, stderrors.NewEmbeddingFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, stderrors.NewEmbeddingFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, stderrors.NewEmbeddingFailedError(fmt.Errorf("status %d", resp.StatusCode))
	}

	var apiResponse struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, stderrors.NewEmbeddingFailedError(fmt.Errorf("decode error: %w", err))
	}

	if len(apiResponse.Data) == 0 || len(apiResponse.Data[0].Embedding) == 0 {
		return nil, stderrors.NewEmbeddingFailedError(fmt.Errorf("empty embedding"))
	}

	return apiResponse.Data[0].Embedding, nil
}
