package mq

import "time"

// Routing keys published by the assignment-management subsystem.
const (
	RoutingKeyAssignmentCreated        = "assignment.created"
	RoutingKeyAssignmentDueDateChanged = "assignment.due_date_changed"
	RoutingKeyAssignmentDeleted        = "assignment.deleted"
)

// AssignmentPayload is shared by assignment.created and assignment.due_date_changed.
// Recipients are resolved by the publisher; the reminder service does not know class rosters.
type AssignmentPayload struct {
	AssignmentID      int64     `json:"assignment_id"`
	DueDate           time.Time `json:"due_date"`
	RecipientGroupKey string    `json:"recipient_group_key"`
	Title             string    `json:"title"`
	Subject           string    `json:"subject"`
	RecipientIDs      []int64   `json:"recipient_ids"`
	TraceID           string    `json:"trace_id,omitempty"`
}

type AssignmentDeletedPayload struct {
	AssignmentID int64  `json:"assignment_id"`
	TraceID      string `json:"trace_id,omitempty"`
}
