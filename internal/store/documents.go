// internal/store/documents.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	stderrors "tax-concierge/internal/common/errors"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/models"
)

// DocumentStore is the retrieval contract the pipeline depends on. Vector
// search lives in Postgres (pgvector), lexical search in Elasticsearch, and
// FetchRange serves the context expander.
type DocumentStore interface {
	SearchByVector(ctx context.Context, embedding []float32, k int, floor float64) ([]models.DocumentChunk, error)
	SearchByText(ctx context.Context, query string, k int, weightHint float64) ([]models.DocumentChunk, error)
	FetchRange(ctx context.Context, groupID string, from, to int) ([]models.DocumentChunk, error)
}

type Documents struct {
	db     *sql.DB
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewDocuments(db *sql.DB, es *elasticsearch.Client, index string, log logger.Logger) *Documents {
	return &Documents{
		db:     db,
		es:     es,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "documents"}),
	}
}

func (d *Documents) SearchByVector(ctx context.Context, embedding []float32, k int, floor float64) ([]models.DocumentChunk, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, content, title, source, group_id, ordinal, group_size,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM document_chunks
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, vectorLiteral(embedding), floor, k)
	if err != nil {
		return nil, stderrors.NewVectorSearchFailedError(err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var c models.DocumentChunk
		var groupID sql.NullString
		var ordinal, groupSize sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Content, &c.Title, &c.Source, &groupID, &ordinal, &groupSize, &c.VectorSimilarity); err != nil {
			return nil, stderrors.NewVectorSearchFailedError(err)
		}
		if groupID.Valid && ordinal.Valid && groupSize.Valid {
			c.Position = &models.PositionInfo{
				GroupID:   groupID.String,
				Ordinal:   int(ordinal.Int64),
				GroupSize: int(groupSize.Int64),
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewVectorSearchFailedError(err)
	}

	return chunks, nil
}

// SearchByText runs a lexical multi_match query. weightHint is the fusion
// weight chosen for the lexical path and is applied as a query boost so the
// raw lexical scores reflect it.
func (d *Documents) SearchByText(ctx context.Context, query string, k int, weightHint float64) ([]models.DocumentChunk, error) {
	if weightHint <= 0 {
		weightHint = 1.0
	}
	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "content"},
				"type":   "best_fields",
				"boost":  weightHint,
			},
		},
	}

	body, _ := json.Marshal(queryBody)
	req := esapi.SearchRequest{
		Index: []string{d.index},
		Body:  strings.NewReader(string(body)),
		Size:  &k,
	}

	resp, err := req.Do(ctx, d.es)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, stderrors.NewSearchTimeoutError("lexical")
		}
		return nil, stderrors.NewSearchQueryFailedError(err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, stderrors.NewSearchQueryFailedError(fmt.Errorf("elasticsearch status %s", resp.Status()))
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Content   string `json:"content"`
					Title     string `json:"title"`
					Source    string `json:"source"`
					GroupID   string `json:"group_id"`
					Ordinal   int    `json:"ordinal"`
					GroupSize int    `json:"group_size"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResult); err != nil {
		return nil, stderrors.NewSearchQueryFailedError(fmt.Errorf("decode error: %w", err))
	}

	chunks := make([]models.DocumentChunk, 0, len(searchResult.Hits.Hits))
	for _, hit := range searchResult.Hits.Hits {
		c := models.DocumentChunk{
			ID:           hit.ID,
			Content:      hit.Source.Content,
			Title:        hit.Source.Title,
			Source:       hit.Source.Source,
			LexicalScore: hit.Score,
		}
		if hit.Source.GroupID != "" {
			c.Position = &models.PositionInfo{
				GroupID:   hit.Source.GroupID,
				Ordinal:   hit.Source.Ordinal,
				GroupSize: hit.Source.GroupSize,
			}
		}
		chunks = append(chunks, c)
	}

	return chunks, nil
}

func (d *Documents) FetchRange(ctx context.Context, groupID string, from, to int) ([]models.DocumentChunk, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, content, title, source, group_id, ordinal, group_size
		FROM document_chunks
		WHERE group_id = $1 AND ordinal BETWEEN $2 AND $3
		ORDER BY ordinal`, groupID, from, to)
	if err != nil {
		return nil, stderrors.NewChunkFetchFailedError(groupID, err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var c models.DocumentChunk
		var pos models.PositionInfo
		if err := rows.Scan(&c.ID, &c.Content, &c.Title, &c.Source, &pos.GroupID, &pos.Ordinal, &pos.GroupSize); err != nil {
			return nil, stderrors.NewChunkFetchFailedError(groupID, err)
		}
		c.Position = &pos
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewChunkFetchFailedError(groupID, err)
	}

	return chunks, nil
}

// vectorLiteral renders an embedding as the pgvector input format.
func vectorLiteral(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
