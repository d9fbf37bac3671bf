package mq

import "time"

// Routing keys produced by the delivery worker (via the outbox).
const (
	RoutingKeyReminderDelivered = "reminder.delivered"
	RoutingKeyReminderFailed    = "reminder.failed"
)

// ReminderDeliveredPayload is consumed by the progress-tracking subsystem.
type ReminderDeliveredPayload struct {
	ReminderID   string    `json:"reminder_id"`
	AssignmentID int64     `json:"assignment_id"`
	RecipientID  int64     `json:"recipient_id"`
	Kind         string    `json:"kind"`
	Priority     string    `json:"priority"`
	DeliveredAt  time.Time `json:"delivered_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// ReminderFailedPayload is emitted once a reminder exhausts its delivery attempts.
type ReminderFailedPayload struct {
	ReminderID   string    `json:"reminder_id"`
	AssignmentID int64     `json:"assignment_id"`
	RecipientID  int64     `json:"recipient_id"`
	Kind         string    `json:"kind"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}
