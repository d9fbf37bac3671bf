package model

import "time"

// Assignment is the read-only view of an assignment the reminder pipeline needs.
type Assignment struct {
	ID                int64     `validate:"gt=0"`
	DueDate           time.Time `validate:"required"`
	RecipientGroupKey string
	Title             string
	Subject           string
}
