package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types - Client → Server
const (
	EventTypeMessagePage          = "message-page"
	EventTypeSeen                 = "seen"
	EventTypeNewMessage           = "new message"
	EventTypeSidebar              = "sidebar"
	EventTypeGetAllUsers          = "get-all-users"
	EventTypeScheduleMessage      = "schedule-message"
	EventTypeGetScheduledMessages = "get-scheduled-messages"
	EventTypeClearChat            = "clear-chat"
	EventTypePing                 = "ping"
)

// Event types - Server → Client
const (
	EventTypeOnlineUser        = "onlineUser"
	EventTypeMessageUser       = "message-user"
	EventTypeMessage           = "message"
	EventTypeConversation      = "conversation"
	EventTypeDeleted           = "deleted"
	EventTypeScheduledMessages = "scheduled-messages"
	EventTypeAllUsers          = "all-users"
	EventTypePong              = "pong"
	EventTypeError             = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

// PeerPayload names the other user of a request (message-page, seen, sidebar).
type PeerPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type NewMessagePayload struct {
	Sender   uuid.UUID `json:"sender"`
	Receiver uuid.UUID `json:"receiver"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	VideoURL string    `json:"video_url,omitempty"`
}

type ClearChatPayload struct {
	Sender   uuid.UUID `json:"sender"`
	Receiver uuid.UUID `json:"receiver"`
}

// --- Server → Client payloads ---

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, conversationID *uuid.UUID, payload any) (*Event, error) {
	evt := &Event{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now().Unix(),
	}
	if payload == nil {
		return evt, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	evt.Payload = data
	return evt, nil
}
