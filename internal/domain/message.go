package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is immutable once created except for Seen, which only goes
// false -> true.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Text           string    `json:"text,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	VideoURL       string    `json:"video_url,omitempty"`
	MsgByUserID    uuid.UUID `json:"msg_by_user_id"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageContent struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

func (c MessageContent) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" &&
		strings.TrimSpace(c.ImageURL) == "" &&
		strings.TrimSpace(c.VideoURL) == ""
}
