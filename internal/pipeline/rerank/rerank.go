// internal/pipeline/rerank/rerank.go
package rerank

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
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/metrics"
	"tax-concierge/internal/models"
)

// Reranker reorders fused candidates with an external cross-encoder style
// relevance service. It is strictly optional: any failure, including rate
// limiting, falls open to the first topN candidates in fused order with no
// rerank score attached.
type Reranker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *httpx.Client
	timeout    time.Duration
	cfg        config.RetrievalConfig
	logger     logger.Logger
}

func New(cfg *config.Config, log logger.Logger) *Reranker {
	return &Reranker{
		baseURL:    cfg.Providers.Rerank.BaseURL,
		apiKey:     cfg.Providers.Rerank.APIKey,
		model:      cfg.Providers.Rerank.Model,
		httpClient: httpx.NewClient(0),
		timeout:    config.GetDuration(cfg.Providers.Rerank.Timeout),
		cfg:        cfg.Retrieval,
		logger:     log.WithFields(map[string]interface{}{"stage": "rerank"}),
	}
}

func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.DocumentChunk, topN int) []models.DocumentChunk {
	if len(candidates) == 0 {
		return candidates
	}

	if !r.cfg.RerankEnabled || r.shouldSkip(candidates) {
		return truncate(candidates, topN)
	}

	reranked, err := r.callService(ctx, query, candidates, topN)
	if err != nil {
		r.logger.Warn("rerank failed, keeping fused order", map[string]interface{}{
			"error": err.Error(),
		})
		if stdErr, ok := err.(*stderrors.StandardError); ok {
			metrics.QueriesFailed.WithLabelValues("rerank", string(stdErr.Code)).Inc()
		}
		return truncate(candidates, topN)
	}

	metrics.RetrievalCandidates.WithLabelValues("reranked").Observe(float64(len(reranked)))
	return reranked
}

// shouldSkip implements the optional confidence shortcut: when the best
// fused candidate is already a very strong vector match, the rerank round
// trip buys little.
func (r *Reranker) shouldSkip(candidates []models.DocumentChunk) bool {
	if !r.cfg.SkipWhenConfident {
		return false
	}
	return candidates[0].VectorSimilarity >= r.cfg.SkipSimilarity
}

func (r *Reranker) callService(ctx context.Context, query string, candidates []models.DocumentChunk, topN int) ([]models.DocumentChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	requestBody := map[string]interface{}{
		"model":     r.model,
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	}

	body, _ := json.Marshal(requestBody)
	req, err := http.NewRequest("POST", r.baseURL+"/rerank", bytes.NewBuffer(body))
	if err != nil {
		return nil, stderrors.NewRerankFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, stderrors.NewRerankFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, stderrors.NewRerankRateLimitedError(fmt.Sprintf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, stderrors.NewRerankFailedError(fmt.Errorf("status %d", resp.StatusCode))
	}

	var apiResponse struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, stderrors.NewRerankFailedError(fmt.Errorf("decode error: %w", err))
	}
	if len(apiResponse.Results) == 0 {
		return nil, stderrors.NewRerankFailedError(fmt.Errorf("empty rerank result"))
	}

	reranked := make([]models.DocumentChunk, 0, topN)
	for _, result := range apiResponse.Results {
		if result.Index < 0 || result.Index >= len(candidates) {
			return nil, stderrors.NewRerankFailedError(fmt.Errorf("index %d out of range", result.Index))
		}
		chunk := candidates[result.Index]
		score := result.RelevanceScore
		chunk.RerankScore = &score
		reranked = append(reranked, chunk)
		if len(reranked) == topN {
			break
		}
	}

	return reranked, nil
}

func truncate(chunks []models.DocumentChunk, n int) []models.DocumentChunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}
