package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

const uniqueViolation = "23505"

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// Create relies on the unique (least, greatest) index over the participants.
// GetByPair queries through the same expressions so it can use that index.
func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, sender_id, receiver_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, conv.ID, conv.SenderID, conv.ReceiverID, conv.CreatedAt, conv.UpdatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *ConversationRepo) GetByPair(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, sender_id, receiver_id, created_at, updated_at
		FROM conversations
		WHERE LEAST(sender_id, receiver_id) = LEAST($1::uuid, $2::uuid)
			AND GREATEST(sender_id, receiver_id) = GREATEST($1::uuid, $2::uuid)`
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, userA, userB).Scan(
		&conv.ID, &conv.SenderID, &conv.ReceiverID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &conv, err
}

func (r *ConversationRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, at, id)
	return err
}

func (r *ConversationRepo) ListSummaries(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	query := `
		SELECT c.id, c.updated_at,
			us.id, us.name, us.profile_pic,
			ur.id, ur.name, ur.profile_pic,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND NOT m.seen AND m.msg_by_user_id <> $1),
			lm.id, lm.text, lm.image_url, lm.video_url, lm.msg_by_user_id, lm.seen, lm.created_at
		FROM conversations c
		JOIN users us ON us.id = c.sender_id
		JOIN users ur ON ur.id = c.receiver_id
		LEFT JOIN LATERAL (
			SELECT id, text, image_url, video_url, msg_by_user_id, seen, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY seq DESC
			LIMIT 1
		) lm ON true
		WHERE c.sender_id = $1 OR c.receiver_id = $1
		ORDER BY c.updated_at DESC, c.id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.ConversationSummary{}
	for rows.Next() {
		var (
			sum    domain.ConversationSummary
			unseen int64

			lastID        *uuid.UUID
			lastText      *string
			lastImage     *string
			lastVideo     *string
			lastAuthor    *uuid.UUID
			lastSeen      *bool
			lastCreatedAt *time.Time
		)
		if err := rows.Scan(
			&sum.ID, &sum.UpdatedAt,
			&sum.Sender.ID, &sum.Sender.Name, &sum.Sender.ProfilePic,
			&sum.Receiver.ID, &sum.Receiver.Name, &sum.Receiver.ProfilePic,
			&unseen,
			&lastID, &lastText, &lastImage, &lastVideo, &lastAuthor, &lastSeen, &lastCreatedAt,
		); err != nil {
			return nil, err
		}
		sum.UnseenMsg = int(unseen)
		if lastID != nil {
			sum.LastMsg = &domain.Message{
				ID:             *lastID,
				ConversationID: sum.ID,
				Text:           *lastText,
				ImageURL:       *lastImage,
				VideoURL:       *lastVideo,
				MsgByUserID:    *lastAuthor,
				Seen:           *lastSeen,
				CreatedAt:      *lastCreatedAt,
			}
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
