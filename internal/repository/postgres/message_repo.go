package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/courier/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, text, image_url, video_url, msg_by_user_id, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.Text, msg.ImageURL, msg.VideoURL,
		msg.MsgByUserID, msg.Seen, msg.CreatedAt,
	)
	return err
}

// ListByConversation orders by seq, the insertion sequence, not created_at.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, text, image_url, video_url, msg_by_user_id, seen, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq`
	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Text, &msg.ImageURL, &msg.VideoURL,
			&msg.MsgByUserID, &msg.Seen, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *MessageRepo) MarkSeen(ctx context.Context, conversationID, authorID uuid.UUID) (int64, error) {
	query := `
		UPDATE messages SET seen = true
		WHERE conversation_id = $1 AND msg_by_user_id = $2 AND NOT seen`
	tag, err := r.pool.Exec(ctx, query, conversationID, authorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
