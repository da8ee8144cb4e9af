package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
)

// ErrConflict is returned when a create violates a uniqueness constraint.
var ErrConflict = errors.New("conflicting record already exists")

// Lookups return (nil, nil) when the record does not exist.

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
}

type ConversationRepository interface {
	// Create fails with ErrConflict if the unordered pair already has a conversation.
	Create(ctx context.Context, conv *domain.Conversation) error
	// GetByPair matches either ordering of the participants.
	GetByPair(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListSummaries returns the user's conversations, most recently active first.
	ListSummaries(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error)
}

type MessageRepository interface {
	// Create appends msg to its conversation.
	Create(ctx context.Context, msg *domain.Message) error
	// ListByConversation returns messages in append order.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	MarkSeen(ctx context.Context, conversationID, authorID uuid.UUID) (int64, error)
	DeleteByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

type ScheduledMessageRepository interface {
	Create(ctx context.Context, msg *domain.ScheduledMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error)
	// ListBySender returns the sender's entries, latest schedule time first.
	ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.ScheduledMessage, error)
	// ListForUser returns entries the user sent or will receive, latest
	// schedule time first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.ScheduledMessage, error)
	// ListDue returns pending entries with schedule time <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error)
	// UpdateStatus moves a pending entry to status. It reports false if the
	// entry was no longer pending.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ScheduledStatus, at time.Time) (bool, error)
}
