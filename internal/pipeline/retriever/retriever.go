// internal/pipeline/retriever/retriever.go
package retriever

import (
	"context"
	"sync"

	"tax-concierge/internal/common/config"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/metrics"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
	"tax-concierge/internal/store"
)

// Retriever runs the lexical and vector searches concurrently and fuses the
// ranked lists with RRF. The lexical path is allowed to fail silently: the
// vector results alone are still evidence. Both paths failing yields an
// empty set, which downstream treats as "no evidence", not an error.
type Retriever struct {
	documents store.DocumentStore
	embedder  llm.Embedder
	cfg       config.RetrievalConfig
	logger    logger.Logger
}

func New(documents store.DocumentStore, embedder llm.Embedder, cfg config.RetrievalConfig, log logger.Logger) *Retriever {
	return &Retriever{
		documents: documents,
		embedder:  embedder,
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"stage": "retriever"}),
	}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) []models.DocumentChunk {
	weights := SelectWeights(query,
		models.FusionWeights{Lexical: r.cfg.LexicalWeight, Vector: r.cfg.VectorWeight},
		models.FusionWeights{Lexical: r.cfg.ExactLexical, Vector: r.cfg.ExactVector},
	)

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, lexical-only retrieval", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var (
		wg            sync.WaitGroup
		lexicalChunks []models.DocumentChunk
		vectorChunks  []models.DocumentChunk
		lexicalErr    error
		vectorErr     error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		lexicalChunks, lexicalErr = r.documents.SearchByText(ctx, query, k, weights.Lexical)
	}()

	if embedding != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectorChunks, vectorErr = r.documents.SearchByVector(ctx, embedding, k, r.cfg.SimilarityFloor)
		}()
	}

	wg.Wait()

	if lexicalErr != nil {
		r.logger.Warn("lexical search failed, degrading to vector-only", map[string]interface{}{
			"error": lexicalErr.Error(),
		})
		metrics.QueriesFailed.WithLabelValues("retriever_lexical", "SEARCH_QUERY_FAILED").Inc()
		lexicalChunks = nil
	}
	if vectorErr != nil {
		r.logger.Warn("vector search failed", map[string]interface{}{
			"error": vectorErr.Error(),
		})
		metrics.QueriesFailed.WithLabelValues("retriever_vector", "VECTOR_SEARCH_FAILED").Inc()
		vectorChunks = nil
	}

	fused := fuseRRF([][]models.DocumentChunk{lexicalChunks, vectorChunks}, r.cfg.RRFConstant, k)

	metrics.RetrievalCandidates.WithLabelValues("fused").Observe(float64(len(fused)))
	r.logger.Debug("retrieval complete", map[string]interface{}{
		"lexical": len(lexicalChunks),
		"vector":  len(vectorChunks),
		"fused":   len(fused),
	})

	return fused
}
