// internal/pipeline/retriever/fusion.go
package retriever

import (
	"sort"

	"tax-concierge/internal/models"
)

// fuseRRF merges ranked candidate lists with reciprocal rank fusion. Each
// list a chunk appears in contributes 1/(c + rank + 1); absence from a list
// contributes nothing. Ties keep first-discovery order, lists walked in the
// order given.
func fuseRRF(lists [][]models.DocumentChunk, c int, k int) []models.DocumentChunk {
	type fusedEntry struct {
		chunk models.DocumentChunk
		score float64
		order int
	}

	entries := make(map[string]*fusedEntry)
	discovered := 0

	for _, list := range lists {
		for rank, chunk := range list {
			contribution := 1.0 / float64(c+rank+1)

			entry, seen := entries[chunk.ID]
			if !seen {
				entries[chunk.ID] = &fusedEntry{chunk: chunk, score: contribution, order: discovered}
				discovered++
				continue
			}

			entry.score += contribution
			// Later lists fill in the score fields the first sighting lacked.
			if chunk.LexicalScore > entry.chunk.LexicalScore {
				entry.chunk.LexicalScore = chunk.LexicalScore
			}
			if chunk.VectorSimilarity > entry.chunk.VectorSimilarity {
				entry.chunk.VectorSimilarity = chunk.VectorSimilarity
			}
			if entry.chunk.Position == nil {
				entry.chunk.Position = chunk.Position
			}
		}
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, entry := range entries {
		fused = append(fused, entry)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].order < fused[j].order
	})

	if k > 0 && len(fused) > k {
		fused = fused[:k]
	}

	result := make([]models.DocumentChunk, len(fused))
	for i, entry := range fused {
		chunk := entry.chunk
		chunk.FusedScore = entry.score
		result[i] = chunk
	}
	return result
}
