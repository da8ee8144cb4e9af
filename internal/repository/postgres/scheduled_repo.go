package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

type ScheduledMessageRepo struct {
	pool *pgxpool.Pool
}

func NewScheduledMessageRepo(pool *pgxpool.Pool) *ScheduledMessageRepo {
	return &ScheduledMessageRepo{pool: pool}
}

const scheduledColumns = `id, sender_id, receiver_id, message, schedule_time, status, created_at, updated_at`

func (r *ScheduledMessageRepo) Create(ctx context.Context, msg *domain.ScheduledMessage) error {
	query := `
		INSERT INTO scheduled_messages (` + scheduledColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Message, msg.ScheduleTime,
		string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *ScheduledMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_messages WHERE id = $1`
	msg, err := scanScheduled(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (r *ScheduledMessageRepo) ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_messages
		WHERE sender_id = $1
		ORDER BY schedule_time DESC, id`
	return r.list(ctx, query, senderID)
}

func (r *ScheduledMessageRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY schedule_time DESC, id`
	return r.list(ctx, query, userID)
}

// ListDue treats a non-positive limit as unbounded (LIMIT NULL).
func (r *ScheduledMessageRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_messages
		WHERE status = 'pending' AND schedule_time <= $1
		ORDER BY schedule_time, id
		LIMIT NULLIF($2, 0)`
	if limit < 0 {
		limit = 0
	}
	return r.list(ctx, query, now, limit)
}

func (r *ScheduledMessageRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ScheduledStatus, at time.Time) (bool, error) {
	query := `
		UPDATE scheduled_messages SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, string(status), at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ScheduledMessageRepo) list(ctx context.Context, query string, args ...any) ([]domain.ScheduledMessage, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ScheduledMessage{}
	for rows.Next() {
		msg, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func scanScheduled(row pgx.Row) (*domain.ScheduledMessage, error) {
	var (
		msg    domain.ScheduledMessage
		status string
	)
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Message, &msg.ScheduleTime,
		&status, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Status = domain.ScheduledStatus(status)
	return &msg, nil
}
