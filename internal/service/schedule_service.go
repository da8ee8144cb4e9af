package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

type ScheduleInput struct {
	ReceiverID   uuid.UUID `json:"receiver_id"`
	Message      string    `json:"message"`
	ScheduleTime time.Time `json:"schedule_time"`
}

// ScheduleService records deferred messages. Delivery belongs to the scheduler.
type ScheduleService struct {
	scheduled repository.ScheduledMessageRepository
	users     repository.UserRepository
	now       func() time.Time
}

func NewScheduleService(scheduled repository.ScheduledMessageRepository, users repository.UserRepository) *ScheduleService {
	return &ScheduleService{
		scheduled: scheduled,
		users:     users,
		now:       time.Now,
	}
}

// Schedule creates a pending entry. A schedule time already in the past is
// accepted and delivered by the next sweep.
func (s *ScheduleService) Schedule(ctx context.Context, senderID uuid.UUID, input ScheduleInput) (*domain.ScheduledMessage, error) {
	if input.ReceiverID == uuid.Nil || strings.TrimSpace(input.Message) == "" || input.ScheduleTime.IsZero() {
		return nil, ErrMissingScheduleFields
	}

	receiver, err := s.users.GetByID(ctx, input.ReceiverID)
	if err != nil {
		return nil, storageError("loading receiver", err)
	}
	if receiver == nil {
		return nil, ErrUserNotFound
	}

	now := s.now()
	msg := &domain.ScheduledMessage{
		ID:           uuid.New(),
		SenderID:     senderID,
		ReceiverID:   input.ReceiverID,
		Message:      input.Message,
		ScheduleTime: input.ScheduleTime.UTC(),
		Status:       domain.ScheduledPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.scheduled.Create(ctx, msg); err != nil {
		return nil, storageError("creating scheduled message", err)
	}
	return msg, nil
}

// ListBySender returns the sender's entries, latest schedule time first.
func (s *ScheduleService) ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.ScheduledMessage, error) {
	return s.list(s.scheduled.ListBySender(ctx, senderID))
}

// ListForUser also includes entries addressed to the user.
func (s *ScheduleService) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.ScheduledMessage, error) {
	return s.list(s.scheduled.ListForUser(ctx, userID))
}

func (s *ScheduleService) list(list []domain.ScheduledMessage, err error) ([]domain.ScheduledMessage, error) {
	if err != nil {
		return nil, storageError("listing scheduled messages", err)
	}
	if list == nil {
		list = []domain.ScheduledMessage{}
	}
	return list, nil
}
