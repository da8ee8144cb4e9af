package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/metrics"
	"github.com/vedran77/courier/internal/repository"
)

// Notifier pushes real-time events to a user's live sessions. Calls must not
// block on the network.
type Notifier interface {
	NotifyMessages(userID, conversationID uuid.UUID, messages []domain.Message)
	NotifyConversations(userID uuid.UUID, summaries []domain.ConversationSummary)
	NotifyCleared(userID uuid.UUID, summaries []domain.ConversationSummary)
}

type PresenceChecker interface {
	IsOnline(id uuid.UUID) bool
}

// ConversationView is what a user sees when opening a chat with a peer.
type ConversationView struct {
	Peer           domain.UserProfile `json:"peer"`
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty"`
	Messages       []domain.Message   `json:"messages"`
}

// RelayService creates, persists and fans out direct messages. Persistence
// always happens before fan-out; fan-out is best effort and never rolled back.
type RelayService struct {
	users    repository.UserRepository
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	presence PresenceChecker
	notifier Notifier
	now      func() time.Time
}

func NewRelayService(
	users repository.UserRepository,
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	presence PresenceChecker,
) *RelayService {
	return &RelayService{
		users:    users,
		convs:    convs,
		messages: messages,
		presence: presence,
		now:      time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *RelayService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *RelayService) OpenConversationView(ctx context.Context, requesterID, peerID uuid.UUID) (*ConversationView, error) {
	peer, err := s.users.GetByID(ctx, peerID)
	if err != nil {
		return nil, storageError("loading peer", err)
	}
	if peer == nil {
		return nil, ErrUserNotFound
	}

	online := s.presence != nil && s.presence.IsOnline(peer.ID)
	view := &ConversationView{
		Peer:     peer.Profile(online),
		Messages: []domain.Message{},
	}

	conv, err := s.convs.GetByPair(ctx, requesterID, peerID)
	if err != nil {
		return nil, storageError("loading conversation", err)
	}
	if conv == nil {
		return view, nil
	}

	msgs, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, storageError("loading messages", err)
	}
	view.ConversationID = &conv.ID
	view.Messages = msgs
	return view, nil
}

// SendMessage persists a message from sender to receiver and pushes the full
// reloaded conversation plus refreshed sidebars to both participants.
func (s *RelayService) SendMessage(ctx context.Context, senderID, receiverID uuid.UUID, content domain.MessageContent) (*domain.Message, error) {
	if content.IsEmpty() {
		return nil, ErrEmptyMessage
	}

	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		return nil, storageError("loading receiver", err)
	}
	if receiver == nil {
		return nil, ErrUserNotFound
	}

	conv, err := s.findOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Text:           content.Text,
		ImageURL:       content.ImageURL,
		VideoURL:       content.VideoURL,
		MsgByUserID:    senderID,
		CreatedAt:      now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, storageError("creating message", err)
	}
	metrics.MessagesRelayed.Inc()

	if err := s.convs.Touch(ctx, conv.ID, now); err != nil {
		slog.WarnContext(ctx, "relay: touching conversation failed", "conversation_id", conv.ID, "error", err)
	}

	s.pushMessages(ctx, conv.ID, senderID, receiverID)
	s.pushSummaries(ctx, senderID, receiverID)

	return msg, nil
}

// MarkSeen marks every message authored by counterpart in the shared
// conversation as seen. It is a no-op when no conversation exists.
func (s *RelayService) MarkSeen(ctx context.Context, viewerID, counterpartID uuid.UUID) error {
	conv, err := s.convs.GetByPair(ctx, viewerID, counterpartID)
	if err != nil {
		return storageError("loading conversation", err)
	}
	if conv == nil {
		return nil
	}

	if _, err := s.messages.MarkSeen(ctx, conv.ID, counterpartID); err != nil {
		return storageError("marking messages seen", err)
	}

	s.pushSummaries(ctx, viewerID, counterpartID)
	return nil
}

// ClearConversation deletes every message of the pair's conversation but
// keeps the conversation itself, then sends both sides a cleared signal.
func (s *RelayService) ClearConversation(ctx context.Context, userA, userB uuid.UUID) error {
	conv, err := s.convs.GetByPair(ctx, userA, userB)
	if err != nil {
		return storageError("loading conversation", err)
	}
	if conv == nil {
		return nil
	}

	deleted, err := s.messages.DeleteByConversation(ctx, conv.ID)
	if err != nil {
		return storageError("clearing conversation", err)
	}
	slog.InfoContext(ctx, "relay: conversation cleared", "conversation_id", conv.ID, "deleted", deleted)

	if s.notifier == nil {
		return nil
	}
	for _, id := range participants(userA, userB) {
		sums, err := s.convs.ListSummaries(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "relay: loading summaries failed", "user_id", id, "error", err)
			continue
		}
		s.notifier.NotifyCleared(id, sums)
	}
	return nil
}

func (s *RelayService) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	sums, err := s.convs.ListSummaries(ctx, userID)
	if err != nil {
		return nil, storageError("listing conversations", err)
	}
	if sums == nil {
		sums = []domain.ConversationSummary{}
	}
	return sums, nil
}

// ListUsers returns the user directory (name and avatar only).
func (s *RelayService) ListUsers(ctx context.Context) ([]domain.UserRef, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, storageError("listing users", err)
	}
	refs := make([]domain.UserRef, 0, len(users))
	for i := range users {
		refs = append(refs, users[i].Ref())
	}
	return refs, nil
}

// findOrCreateConversation falls back to a re-read when a concurrent first
// message between the same pair wins the unique index.
func (s *RelayService) findOrCreateConversation(ctx context.Context, senderID, receiverID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convs.GetByPair(ctx, senderID, receiverID)
	if err != nil {
		return nil, storageError("loading conversation", err)
	}
	if conv != nil {
		return conv, nil
	}

	now := s.now()
	conv = &domain.Conversation{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.convs.Create(ctx, conv)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, storageError("creating conversation", err)
	}

	existing, err := s.convs.GetByPair(ctx, senderID, receiverID)
	if err != nil {
		return nil, storageError("loading conversation after conflict", err)
	}
	if existing == nil {
		return nil, storageError("loading conversation after conflict", fmt.Errorf("conversation for %s/%s missing", senderID, receiverID))
	}
	return existing, nil
}

func (s *RelayService) pushMessages(ctx context.Context, conversationID, userA, userB uuid.UUID) {
	if s.notifier == nil {
		return
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		slog.ErrorContext(ctx, "relay: reloading conversation failed", "conversation_id", conversationID, "error", err)
		return
	}
	for _, id := range participants(userA, userB) {
		s.notifier.NotifyMessages(id, conversationID, msgs)
	}
}

func (s *RelayService) pushSummaries(ctx context.Context, userA, userB uuid.UUID) {
	if s.notifier == nil {
		return
	}
	for _, id := range participants(userA, userB) {
		sums, err := s.convs.ListSummaries(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "relay: loading summaries failed", "user_id", id, "error", err)
			continue
		}
		s.notifier.NotifyConversations(id, sums)
	}
}

func participants(a, b uuid.UUID) []uuid.UUID {
	if a == b {
		return []uuid.UUID{a}
	}
	return []uuid.UUID{a, b}
}
