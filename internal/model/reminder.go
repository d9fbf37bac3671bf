package model

import (
	"time"

	"github.com/google/uuid"
)

type ReminderKind string

const (
	KindDue24h  ReminderKind = "DUE_24H"
	KindDue12h  ReminderKind = "DUE_12H"
	KindDue6h   ReminderKind = "DUE_6H"
	KindDue1h   ReminderKind = "DUE_1H"
	KindOverdue ReminderKind = "OVERDUE"
	KindCustom  ReminderKind = "CUSTOM"
)

// PlannedKinds are the kinds generated for every recipient of an assignment, in trigger order.
var PlannedKinds = []ReminderKind{KindDue24h, KindDue12h, KindDue6h, KindDue1h, KindOverdue}

func (k ReminderKind) Valid() bool {
	switch k {
	case KindDue24h, KindDue12h, KindDue6h, KindDue1h, KindOverdue, KindCustom:
		return true
	}
	return false
}

// Offset returns triggerAt - dueDate for planned kinds.
func (k ReminderKind) Offset() (time.Duration, bool) {
	switch k {
	case KindDue24h:
		return -24 * time.Hour, true
	case KindDue12h:
		return -12 * time.Hour, true
	case KindDue6h:
		return -6 * time.Hour, true
	case KindDue1h:
		return -time.Hour, true
	case KindOverdue:
		return time.Hour, true
	case KindCustom:
		return 0, false
	}
	return 0, false
}

type ReminderStatus string

const (
	StatusPending   ReminderStatus = "PENDING"
	StatusClaimed   ReminderStatus = "CLAIMED"
	StatusSent      ReminderStatus = "SENT"
	StatusFailed    ReminderStatus = "FAILED"
	StatusCancelled ReminderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s ReminderStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusClaimed:
		return false
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ReminderSpec is a planned reminder before persistence.
type ReminderSpec struct {
	AssignmentID    int64
	RecipientID     int64
	Kind            ReminderKind
	TriggerAt       time.Time
	DueAtSnapshot   time.Time
	TitleSnapshot   string
	MessageSnapshot string
}

type Reminder struct {
	ID              uuid.UUID      `json:"id"`
	AssignmentID    int64          `json:"assignment_id"`
	RecipientID     int64          `json:"recipient_id"`
	Kind            ReminderKind   `json:"kind"`
	TriggerAt       time.Time      `json:"trigger_at"`
	DueAtSnapshot   time.Time      `json:"due_at"`
	TitleSnapshot   string         `json:"title"`
	MessageSnapshot string         `json:"message"`
	Status          ReminderStatus `json:"status"`
	Attempts        int            `json:"attempts"`
	Read            bool           `json:"read"`
	ReadAt          *time.Time     `json:"read_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	// claim bookkeeping, only meaningful while Status is CLAIMED
	ClaimToken      uuid.UUID  `json:"-"`
	ClaimedAt       *time.Time `json:"-"`
	CancelRequested bool       `json:"-"`
}

// NewReminder builds a PENDING reminder from a spec.
func NewReminder(spec ReminderSpec, now time.Time) *Reminder {
	return &Reminder{
		ID:              uuid.New(),
		AssignmentID:    spec.AssignmentID,
		RecipientID:     spec.RecipientID,
		Kind:            spec.Kind,
		TriggerAt:       spec.TriggerAt,
		DueAtSnapshot:   spec.DueAtSnapshot,
		TitleSnapshot:   spec.TitleSnapshot,
		MessageSnapshot: spec.MessageSnapshot,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Outcome is the result of one delivery attempt, applied by Finalize.
type Outcome struct {
	ReminderID  uuid.UUID
	ClaimToken  uuid.UUID
	Delivered   bool
	Error       string
	MaxAttempts int
	At          time.Time
	// Reminder is the claimed row; stores that record delivery events read their payload from it.
	Reminder *Reminder
}

// FinalizeResult reports what Finalize did with one outcome.
// Applied is false when the claim was lost (expired and taken by another worker, or row gone).
type FinalizeResult struct {
	ReminderID uuid.UUID
	Status     ReminderStatus
	Attempts   int
	Applied    bool
}
