// internal/models/chunk.go
package models

// PositionInfo locates a chunk inside its source document. Ordinal is
// 1-based; GroupSize is the total number of chunks in the group.
type PositionInfo struct {
	GroupID   string `json:"groupId"`
	Ordinal   int    `json:"ordinal"`
	GroupSize int    `json:"groupSize"`
}

// DocumentChunk is a retrieval candidate. Identity is ID; the score fields
// accrete as the chunk moves through the pipeline and are never cleared by a
// later stage.
type DocumentChunk struct {
	ID               string        `json:"id"`
	Content          string        `json:"content"`
	Title            string        `json:"title"`
	Source           string        `json:"source"`
	Position         *PositionInfo `json:"position,omitempty"`
	LexicalScore     float64       `json:"lexicalScore"`
	VectorSimilarity float64       `json:"vectorSimilarity"`
	FusedScore       float64       `json:"fusedScore"`
	RerankScore      *float64      `json:"rerankScore,omitempty"`
}

// FusionWeights balances the two retrieval paths. Lexical and Vector always
// sum to 1.0.
type FusionWeights struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

// MaxSimilarity returns the highest vector similarity among the chunks.
func MaxSimilarity(chunks []DocumentChunk) float64 {
	max := 0.0
	for _, c := range chunks {
		if c.VectorSimilarity > max {
			max = c.VectorSimilarity
		}
	}
	return max
}

// TopRerankScore returns the best rerank score among the chunks, or nil when
// no chunk was reranked.
func TopRerankScore(chunks []DocumentChunk) *float64 {
	var best *float64
	for i := range chunks {
		s := chunks[i].RerankScore
		if s == nil {
			continue
		}
		if best == nil || *s > *best {
			best = s
		}
	}
	return best
}
