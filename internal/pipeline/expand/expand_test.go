// internal/pipeline/expand/expand_test.go
package expand

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/models"
)

type fakeDocuments struct {
	siblings []models.DocumentChunk
	err      error
	from     int
	to       int
	groupID  string
	called   bool
}

func (f *fakeDocuments) SearchByText(ctx context.Context, query string, k int, weightHint float64) ([]models.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeDocuments) SearchByVector(ctx context.Context, embedding []float32, k int, floor float64) ([]models.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeDocuments) FetchRange(ctx context.Context, groupID string, from, to int) ([]models.DocumentChunk, error) {
	f.called = true
	f.groupID = groupID
	f.from = from
	f.to = to
	return f.siblings, f.err
}

func positioned(id string, ordinal, groupSize int) models.DocumentChunk {
	return models.DocumentChunk{
		ID:               id,
		Content:          "original-" + id,
		VectorSimilarity: 0.8,
		FusedScore:       0.03,
		Position: &models.PositionInfo{
			GroupID:   "doc-1",
			Ordinal:   ordinal,
			GroupSize: groupSize,
		},
	}
}

func TestExpand_ZeroWindowPassesThrough(t *testing.T) {
	docs := &fakeDocuments{}
	e := New(docs, logger.NewNop())

	chunks := []models.DocumentChunk{positioned("a", 5, 10)}
	out := e.Expand(context.Background(), chunks, 0)

	assert.Equal(t, chunks, out)
	assert.False(t, docs.called)
}

func TestExpand_UnpositionedChunkPassesThrough(t *testing.T) {
	docs := &fakeDocuments{}
	e := New(docs, logger.NewNop())

	chunks := []models.DocumentChunk{{ID: "a", Content: "loose chunk"}}
	out := e.Expand(context.Background(), chunks, 2)

	assert.Equal(t, "loose chunk", out[0].Content)
	assert.False(t, docs.called)
}

func TestExpand_StitchesNeighbors(t *testing.T) {
	docs := &fakeDocuments{siblings: []models.DocumentChunk{
		{Content: "before"},
		{Content: "original-a"},
		{Content: "after"},
	}}
	e := New(docs, logger.NewNop())

	out := e.Expand(context.Background(), []models.DocumentChunk{positioned("a", 5, 10)}, 1)

	assert.Equal(t, "before\noriginal-a\nafter", out[0].Content)
	assert.Equal(t, "doc-1", docs.groupID)
	assert.Equal(t, 4, docs.from)
	assert.Equal(t, 6, docs.to)
}

func TestExpand_ClampsWindowToGroupBounds(t *testing.T) {
	tests := []struct {
		name         string
		ordinal      int
		groupSize    int
		window       int
		expectedFrom int
		expectedTo   int
	}{
		{"start of group", 1, 10, 2, 1, 3},
		{"end of group", 10, 10, 2, 8, 10},
		{"window covers whole group", 3, 5, 10, 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &fakeDocuments{siblings: []models.DocumentChunk{{Content: "x"}}}
			e := New(docs, logger.NewNop())

			e.Expand(context.Background(), []models.DocumentChunk{positioned("a", tt.ordinal, tt.groupSize)}, tt.window)

			assert.Equal(t, tt.expectedFrom, docs.from)
			assert.Equal(t, tt.expectedTo, docs.to)
		})
	}
}

func TestExpand_FetchFailureKeepsOriginalChunk(t *testing.T) {
	docs := &fakeDocuments{err: errors.New("database unavailable")}
	e := New(docs, logger.NewNop())

	out := e.Expand(context.Background(), []models.DocumentChunk{positioned("a", 5, 10)}, 2)

	assert.Equal(t, "original-a", out[0].Content)
}

func TestExpand_EmptyRangeKeepsOriginalChunk(t *testing.T) {
	docs := &fakeDocuments{}
	e := New(docs, logger.NewNop())

	out := e.Expand(context.Background(), []models.DocumentChunk{positioned("a", 5, 10)}, 2)

	assert.Equal(t, "original-a", out[0].Content)
}

func TestExpand_ScoresSurviveExpansion(t *testing.T) {
	docs := &fakeDocuments{siblings: []models.DocumentChunk{{Content: "wider context"}}}
	e := New(docs, logger.NewNop())

	out := e.Expand(context.Background(), []models.DocumentChunk{positioned("a", 5, 10)}, 1)

	assert.Equal(t, "wider context", out[0].Content)
	assert.Equal(t, 0.8, out[0].VectorSimilarity)
	assert.Equal(t, 0.03, out[0].FusedScore)
}
