package reminder

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks a persistence failure that aborts the whole delivery tick.
var ErrStoreUnavailable = errors.New("reminder store unavailable")

// PlanningError rejects an assignment before any reminder is created.
type PlanningError struct {
	AssignmentID int64
	Reason       string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("cannot plan reminders for assignment %d: %s", e.AssignmentID, e.Reason)
}

// Permanent marks planning errors as caller errors so consumers do not redeliver them.
func (e *PlanningError) Permanent() bool { return true }
