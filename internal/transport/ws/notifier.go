package ws

import (
	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyMessages(userID, conversationID uuid.UUID, messages []domain.Message) {
	n.hub.emitToUser(userID, EventTypeMessage, &conversationID, messages)
}

func (n *HubNotifier) NotifyConversations(userID uuid.UUID, summaries []domain.ConversationSummary) {
	n.hub.EmitToUser(userID, EventTypeConversation, summaries)
}

func (n *HubNotifier) NotifyCleared(userID uuid.UUID, summaries []domain.ConversationSummary) {
	n.hub.EmitToUser(userID, EventTypeDeleted, summaries)
}
