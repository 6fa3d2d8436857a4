// internal/pipeline/expand/expand.go
package expand

import (
	"context"
	"strings"

	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/models"
	"tax-concierge/internal/store"
)

// Expander widens each positioned chunk with its neighbors from the same
// document group. Expansion changes what the generator reads, never how the
// chunk was ranked: every pre-expansion score survives untouched.
type Expander struct {
	documents store.DocumentStore
	logger    logger.Logger
}

func New(documents store.DocumentStore, log logger.Logger) *Expander {
	return &Expander{
		documents: documents,
		logger:    log.WithFields(map[string]interface{}{"stage": "expand"}),
	}
}

func (e *Expander) Expand(ctx context.Context, chunks []models.DocumentChunk, window int) []models.DocumentChunk {
	if window <= 0 {
		return chunks
	}

	expanded := make([]models.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		expanded[i] = e.expandOne(ctx, chunk, window)
	}
	return expanded
}

func (e *Expander) expandOne(ctx context.Context, chunk models.DocumentChunk, window int) models.DocumentChunk {
	if chunk.Position == nil {
		return chunk
	}

	from := chunk.Position.Ordinal - window
	if from < 1 {
		from = 1
	}
	to := chunk.Position.Ordinal + window
	if to > chunk.Position.GroupSize {
		to = chunk.Position.GroupSize
	}

	siblings, err := e.documents.FetchRange(ctx, chunk.Position.GroupID, from, to)
	if err != nil {
		e.logger.Warn("neighbor fetch failed, keeping original chunk", map[string]interface{}{
			"groupId": chunk.Position.GroupID,
			"error":   err.Error(),
		})
		return chunk
	}
	if len(siblings) == 0 {
		return chunk
	}

	parts := make([]string, 0, len(siblings))
	for _, sibling := range siblings {
		parts = append(parts, sibling.Content)
	}
	chunk.Content = strings.Join(parts, "\n")

	return chunk
}
