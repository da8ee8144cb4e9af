package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/metrics"
	"github.com/vedran77/courier/internal/service"
	"github.com/vedran77/courier/pkg/validator"
)

// Relay is the message relay as seen by a session.
type Relay interface {
	OpenConversationView(ctx context.Context, requesterID, peerID uuid.UUID) (*service.ConversationView, error)
	SendMessage(ctx context.Context, senderID, receiverID uuid.UUID, content domain.MessageContent) (*domain.Message, error)
	MarkSeen(ctx context.Context, viewerID, counterpartID uuid.UUID) error
	ClearConversation(ctx context.Context, userA, userB uuid.UUID) error
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error)
	ListUsers(ctx context.Context) ([]domain.UserRef, error)
}

type Scheduling interface {
	Schedule(ctx context.Context, senderID uuid.UUID, input service.ScheduleInput) (*domain.ScheduledMessage, error)
	ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.ScheduledMessage, error)
}

type Services struct {
	Relay     Relay
	Schedules Scheduling
}

type eventHandler func(ctx context.Context, payload json.RawMessage) error

func newDispatchTable(c *Client, s Services) map[string]eventHandler {
	return map[string]eventHandler{
		EventTypeMessagePage: func(ctx context.Context, raw json.RawMessage) error {
			p, err := decode[PeerPayload](raw)
			if err != nil {
				return err
			}
			view, err := s.Relay.OpenConversationView(ctx, c.userID, p.UserID)
			if err != nil {
				return err
			}
			c.emit(EventTypeMessageUser, nil, view.Peer)
			c.emit(EventTypeMessage, view.ConversationID, view.Messages)
			return nil
		},

		EventTypeSeen: func(ctx context.Context, raw json.RawMessage) error {
			p, err := decode[PeerPayload](raw)
			if err != nil {
				return err
			}
			return s.Relay.MarkSeen(ctx, c.userID, p.UserID)
		},

		EventTypeNewMessage: func(ctx context.Context, raw json.RawMessage) error {
			p, err := decode[NewMessagePayload](raw)
			if err != nil {
				return err
			}
			if p.Sender != uuid.Nil && p.Sender != c.userID {
				return fmt.Errorf("%w: sender does not match session", service.ErrUnauthorized)
			}
			if errs := validator.ValidateMessage(p.Text, p.ImageURL, p.VideoURL); errs.HasErrors() {
				return fmt.Errorf("%w: %w", service.ErrInvalidRequest, errs)
			}
			content := domain.MessageContent{Text: p.Text, ImageURL: p.ImageURL, VideoURL: p.VideoURL}
			_, err = s.Relay.SendMessage(ctx, c.userID, p.Receiver, content)
			if errors.Is(err, service.ErrEmptyMessage) {
				slog.DebugContext(ctx, "ws: empty message ignored", "user_id", c.userID)
				return nil
			}
			return err
		},

		EventTypeSidebar: func(ctx context.Context, raw json.RawMessage) error {
			if len(raw) > 0 {
				p, err := decode[PeerPayload](raw)
				if err != nil {
					return err
				}
				if p.UserID != uuid.Nil && p.UserID != c.userID {
					return fmt.Errorf("%w: sidebar of another user", service.ErrUnauthorized)
				}
			}
			sums, err := s.Relay.ListConversations(ctx, c.userID)
			if err != nil {
				return err
			}
			c.emit(EventTypeConversation, nil, sums)
			return nil
		},

		EventTypeGetAllUsers: func(ctx context.Context, _ json.RawMessage) error {
			users, err := s.Relay.ListUsers(ctx)
			if err != nil {
				return err
			}
			c.emit(EventTypeAllUsers, nil, users)
			return nil
		},

		EventTypeScheduleMessage: func(ctx context.Context, raw json.RawMessage) error {
			in, err := decode[service.ScheduleInput](raw)
			if err != nil {
				return err
			}
			if errs := validator.ValidateSchedule(in.ReceiverID, in.Message, in.ScheduleTime); errs.HasErrors() {
				return fmt.Errorf("%w: %w", service.ErrMissingScheduleFields, errs)
			}
			if _, err := s.Schedules.Schedule(ctx, c.userID, in); err != nil {
				return err
			}
			return emitScheduled(ctx, c, s.Schedules)
		},

		EventTypeGetScheduledMessages: func(ctx context.Context, _ json.RawMessage) error {
			return emitScheduled(ctx, c, s.Schedules)
		},

		EventTypeClearChat: func(ctx context.Context, raw json.RawMessage) error {
			p, err := decode[ClearChatPayload](raw)
			if err != nil {
				return err
			}
			if p.Sender != c.userID && p.Receiver != c.userID {
				return service.ErrNotParticipant
			}
			return s.Relay.ClearConversation(ctx, p.Sender, p.Receiver)
		},

		EventTypePing: func(context.Context, json.RawMessage) error {
			c.emit(EventTypePong, nil, nil)
			return nil
		},
	}
}

// dispatch runs one inbound event. Failures are reported to this session
// only and never end the connection. The handler context is detached from
// the connection so storage work finishes even if the client leaves.
func (c *Client) dispatch(event *Event) {
	handler, ok := c.handlers[event.Type]
	if !ok {
		metrics.InboundEvents.WithLabelValues("unknown", "error").Inc()
		c.sendError(event.Type, "UNKNOWN_EVENT", "unknown event type: "+event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.InboundEvents.WithLabelValues(event.Type, "error").Inc()
			slog.ErrorContext(ctx, "ws: event handler panic", "user_id", c.userID, "event", event.Type, "panic", r)
			c.sendError(event.Type, "INTERNAL", "something went wrong")
		}
	}()

	if err := handler(ctx, event.Payload); err != nil {
		metrics.InboundEvents.WithLabelValues(event.Type, "error").Inc()
		slog.WarnContext(ctx, "ws: event failed", "user_id", c.userID, "event", event.Type, "error", err)
		code := service.ErrorCode(err)
		c.sendError(event.Type, code, clientMessage(code, err))
		return
	}
	metrics.InboundEvents.WithLabelValues(event.Type, "ok").Inc()
}

func emitScheduled(ctx context.Context, c *Client, schedules Scheduling) error {
	list, err := schedules.ListBySender(ctx, c.userID)
	if err != nil {
		return err
	}
	c.emit(EventTypeScheduledMessages, nil, list)
	return nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: payload required", service.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return v, nil
}

// clientMessage hides storage and internal details from clients.
func clientMessage(code string, err error) string {
	switch code {
	case "STORAGE_FAILURE", "DELIVERY_FAILURE", "INTERNAL":
		return "something went wrong"
	default:
		return err.Error()
	}
}
