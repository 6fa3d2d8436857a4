// internal/store/conversations.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	stderrors "tax-concierge/internal/common/errors"
	"tax-concierge/internal/models"
)

// ConversationStore persists conversation turns and the deferred quality
// audit that arrives after a response has already been returned.
type ConversationStore interface {
	AppendMessage(ctx context.Context, msg models.Message) (string, error)
	FetchRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	RecordFaithfulness(ctx context.Context, messageID string, faithfulness, deferredConfidence float64) error
}

type Conversations struct {
	db *sql.DB
}

func NewConversations(db *sql.DB) *Conversations {
	return &Conversations{db: db}
}

// AppendMessage stores a turn and returns the generated message ID.
func (c *Conversations) AppendMessage(ctx context.Context, msg models.Message) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}

	metadata := []byte("{}")
	if msg.Metadata != nil {
		if data, err := json.Marshal(msg.Metadata); err == nil {
			metadata = data
		}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		id, msg.ConversationID, msg.Role, msg.Content, metadata)
	if err != nil {
		return "", stderrors.NewConversationStoreFailedError(err)
	}

	return id, nil
}

// FetchRecent returns the latest turns of a conversation in chronological
// order.
func (c *Conversations) FetchRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, metadata
		FROM (
			SELECT id, conversation_id, role, content, metadata, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, stderrors.NewConversationStoreFailedError(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &metadata); err != nil {
			return nil, stderrors.NewConversationStoreFailedError(err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &m.Metadata)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewConversationStoreFailedError(err)
	}

	return messages, nil
}

// RecordFaithfulness writes the deferred audit scores onto a stored
// assistant message.
func (c *Conversations) RecordFaithfulness(ctx context.Context, messageID string, faithfulness, deferredConfidence float64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE messages
		SET metadata = jsonb_set(
			jsonb_set(COALESCE(metadata, '{}'::jsonb), '{faithfulness}', to_jsonb($1::float8)),
			'{deferredConfidence}', to_jsonb($2::float8))
		WHERE id = $3`, faithfulness, deferredConfidence, messageID)
	if err != nil {
		return stderrors.NewConversationStoreFailedError(err)
	}
	return nil
}
