package domain

import (
	"time"

	"github.com/google/uuid"
)

type ScheduledStatus string

const (
	ScheduledPending ScheduledStatus = "pending"
	ScheduledSent    ScheduledStatus = "sent"
	ScheduledFailed  ScheduledStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ScheduledStatus) Terminal() bool {
	return s == ScheduledSent || s == ScheduledFailed
}

type ScheduledMessage struct {
	ID           uuid.UUID       `json:"id"`
	SenderID     uuid.UUID       `json:"sender_id"`
	ReceiverID   uuid.UUID       `json:"receiver_id"`
	Message      string          `json:"message"`
	ScheduleTime time.Time       `json:"schedule_time"`
	Status       ScheduledStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Due reports whether the entry should be picked up by a sweep at now.
func (m *ScheduledMessage) Due(now time.Time) bool {
	return m.Status == ScheduledPending && !m.ScheduleTime.After(now)
}
