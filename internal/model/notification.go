package model

import (
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID           uuid.UUID    `json:"id"`
	RecipientID  int64        `json:"recipient_id"`
	ReminderID   *uuid.UUID   `json:"reminder_id,omitempty"`
	AssignmentID *int64       `json:"assignment_id,omitempty"`
	Kind         ReminderKind `json:"kind"`
	Title        string       `json:"title"`
	Message      string       `json:"message"`
	Priority     Priority     `json:"priority"`
	Read         bool         `json:"read"`
	CreatedAt    time.Time    `json:"created_at"`
	ReadAt       *time.Time   `json:"read_at,omitempty"`
}

// Delivery is what the worker hands to a Notifier for one claimed reminder.
type Delivery struct {
	ReminderID   uuid.UUID
	RecipientID  int64
	AssignmentID int64
	Kind         ReminderKind
	Title        string
	Message      string
	Priority     Priority
}
