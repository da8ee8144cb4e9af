// Package memory implements the repository interfaces on in-process maps.
// It backs tests and the "memory" store driver used for local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

type pairKey struct {
	low, high uuid.UUID
}

func keyOf(a, b uuid.UUID) pairKey {
	low, high := domain.PairKey(a, b)
	return pairKey{low: low, high: high}
}

// Store holds all collections behind one mutex, so every method is atomic.
type Store struct {
	mu sync.RWMutex

	users         map[uuid.UUID]domain.User
	conversations map[uuid.UUID]domain.Conversation
	pairs         map[pairKey]uuid.UUID
	messages      map[uuid.UUID][]domain.Message
	scheduled     map[uuid.UUID]domain.ScheduledMessage
}

func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]domain.User),
		conversations: make(map[uuid.UUID]domain.Conversation),
		pairs:         make(map[pairKey]uuid.UUID),
		messages:      make(map[uuid.UUID][]domain.Message),
		scheduled:     make(map[uuid.UUID]domain.ScheduledMessage),
	}
}

// PutUser inserts or replaces a user. Users are registered outside the core.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) Users() *UserRepo                 { return &UserRepo{s: s} }
func (s *Store) Conversations() *ConversationRepo { return &ConversationRepo{s: s} }
func (s *Store) Messages() *MessageRepo           { return &MessageRepo{s: s} }
func (s *Store) ScheduledMessages() *ScheduledRepo {
	return &ScheduledRepo{s: s}
}

var (
	_ repository.UserRepository             = (*UserRepo)(nil)
	_ repository.ConversationRepository     = (*ConversationRepo)(nil)
	_ repository.MessageRepository          = (*MessageRepo)(nil)
	_ repository.ScheduledMessageRepository = (*ScheduledRepo)(nil)
)

// --- users ---

type UserRepo struct{ s *Store }

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepo) List(_ context.Context) ([]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	users := make([]domain.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return users, nil
}

// --- conversations ---

type ConversationRepo struct{ s *Store }

func (r *ConversationRepo) Create(_ context.Context, conv *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := keyOf(conv.SenderID, conv.ReceiverID)
	if _, exists := r.s.pairs[k]; exists {
		return repository.ErrConflict
	}
	r.s.pairs[k] = conv.ID
	r.s.conversations[conv.ID] = *conv
	return nil
}

func (r *ConversationRepo) GetByPair(_ context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.pairs[keyOf(userA, userB)]
	if !ok {
		return nil, nil
	}
	conv := r.s.conversations[id]
	return &conv, nil
}

func (r *ConversationRepo) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return nil
	}
	conv.UpdatedAt = at
	r.s.conversations[id] = conv
	return nil
}

func (r *ConversationRepo) ListSummaries(_ context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	summaries := []domain.ConversationSummary{}
	for _, conv := range r.s.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		msgs := r.s.messages[conv.ID]

		sum := domain.ConversationSummary{
			ID:        conv.ID,
			Sender:    r.s.refOf(conv.SenderID),
			Receiver:  r.s.refOf(conv.ReceiverID),
			UpdatedAt: conv.UpdatedAt,
		}
		for _, m := range msgs {
			if !m.Seen && m.MsgByUserID != userID {
				sum.UnseenMsg++
			}
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMsg = &last
		}
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID.String() < summaries[j].ID.String()
	})
	return summaries, nil
}

func (s *Store) refOf(id uuid.UUID) domain.UserRef {
	if u, ok := s.users[id]; ok {
		return u.Ref()
	}
	return domain.UserRef{ID: id}
}

// --- messages ---

type MessageRepo struct{ s *Store }

func (r *MessageRepo) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messages[msg.ConversationID] = append(r.s.messages[msg.ConversationID], *msg)
	return nil
}

func (r *MessageRepo) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	msgs := r.s.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *MessageRepo) MarkSeen(_ context.Context, conversationID, authorID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	msgs := r.s.messages[conversationID]
	for i := range msgs {
		if msgs[i].MsgByUserID == authorID && !msgs[i].Seen {
			msgs[i].Seen = true
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) DeleteByConversation(_ context.Context, conversationID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := int64(len(r.s.messages[conversationID]))
	delete(r.s.messages, conversationID)
	return n, nil
}

// --- scheduled messages ---

type ScheduledRepo struct{ s *Store }

func (r *ScheduledRepo) Create(_ context.Context, msg *domain.ScheduledMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.scheduled[msg.ID]; exists {
		return repository.ErrConflict
	}
	r.s.scheduled[msg.ID] = *msg
	return nil
}

func (r *ScheduledRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.scheduled[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *ScheduledRepo) ListBySender(_ context.Context, senderID uuid.UUID) ([]domain.ScheduledMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.ScheduledMessage{}
	for _, m := range r.s.scheduled {
		if m.SenderID == senderID {
			out = append(out, m)
		}
	}
	sortLatestFirst(out)
	return out, nil
}

func (r *ScheduledRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]domain.ScheduledMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.ScheduledMessage{}
	for _, m := range r.s.scheduled {
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	sortLatestFirst(out)
	return out, nil
}

func sortLatestFirst(list []domain.ScheduledMessage) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ScheduleTime.Equal(list[j].ScheduleTime) {
			return list[i].ScheduleTime.After(list[j].ScheduleTime)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

func (r *ScheduledRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.ScheduledMessage{}
	for _, m := range r.s.scheduled {
		if m.Due(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduleTime.Equal(out[j].ScheduleTime) {
			return out[i].ScheduleTime.Before(out[j].ScheduleTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ScheduledRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.ScheduledStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.scheduled[id]
	if !ok || m.Status != domain.ScheduledPending {
		return false, nil
	}
	m.Status = status
	m.UpdatedAt = at
	r.s.scheduled[id] = m
	return true, nil
}
