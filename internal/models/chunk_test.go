// internal/models/chunk_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, MaxSimilarity(nil))

	chunks := []DocumentChunk{
		{VectorSimilarity: 0.4},
		{VectorSimilarity: 0.83},
		{VectorSimilarity: 0.6},
	}
	assert.Equal(t, 0.83, MaxSimilarity(chunks))
}

func TestTopRerankScore(t *testing.T) {
	assert.Nil(t, TopRerankScore(nil))
	assert.Nil(t, TopRerankScore([]DocumentChunk{{VectorSimilarity: 0.9}}))

	low, high := 0.4, 0.92
	chunks := []DocumentChunk{
		{RerankScore: &low},
		{VectorSimilarity: 0.99}, // unreranked chunks are ignored
		{RerankScore: &high},
	}

	best := TopRerankScore(chunks)
	if assert.NotNil(t, best) {
		assert.Equal(t, 0.92, *best)
	}
}
