package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups every message between one unordered pair of users.
// SenderID and ReceiverID record who opened it; they carry no role after that.
type Conversation struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PairKey returns the participants in canonical (sorted) order.
func PairKey(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (c *Conversation) HasParticipant(id uuid.UUID) bool {
	return c.SenderID == id || c.ReceiverID == id
}

// Peer returns the other participant. For a self-conversation it returns id.
func (c *Conversation) Peer(id uuid.UUID) uuid.UUID {
	if c.SenderID == id {
		return c.ReceiverID
	}
	return c.SenderID
}

// ConversationSummary is one sidebar row as seen by a particular user.
type ConversationSummary struct {
	ID        uuid.UUID `json:"id"`
	Sender    UserRef   `json:"sender"`
	Receiver  UserRef   `json:"receiver"`
	UnseenMsg int       `json:"unseen_msg"`
	LastMsg   *Message  `json:"last_msg"`
	UpdatedAt time.Time `json:"updated_at"`
}
