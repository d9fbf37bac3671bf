package reminder

import (
	"time"

	"github.com/go-playground/validator/v10"

	"homework-reminder/internal/model"
)

const DefaultStaleGrace = time.Hour

var validate = validator.New()

// Planner computes the reminder set of an assignment. It has no side effects.
type Planner struct {
	presenter  Presenter
	staleGrace time.Duration
}

func NewPlanner(presenter Presenter, staleGrace time.Duration) *Planner {
	if presenter == nil {
		presenter = DefaultPresenter{}
	}
	return &Planner{presenter: presenter, staleGrace: staleGrace}
}

// Plan returns one spec per (recipient, kind) whose trigger time is not more
// than staleGrace in the past relative to now. Duplicate recipients are collapsed.
func (p *Planner) Plan(a model.Assignment, recipients []int64, now time.Time) ([]model.ReminderSpec, error) {
	unique, err := p.validate(a, recipients)
	if err != nil {
		return nil, err
	}

	specs := make([]model.ReminderSpec, 0, len(unique)*len(model.PlannedKinds))
	for _, kind := range model.PlannedKinds {
		offset, _ := kind.Offset()
		triggerAt := a.DueDate.Add(offset)
		if now.Sub(triggerAt) > p.staleGrace {
			continue
		}
		title, message := p.presenter.Render(kind, a)
		for _, recipientID := range unique {
			specs = append(specs, model.ReminderSpec{
				AssignmentID:    a.ID,
				RecipientID:     recipientID,
				Kind:            kind,
				TriggerAt:       triggerAt,
				DueAtSnapshot:   a.DueDate,
				TitleSnapshot:   title,
				MessageSnapshot: message,
			})
		}
	}
	return specs, nil
}

func (p *Planner) validate(a model.Assignment, recipients []int64) ([]int64, error) {
	if a.DueDate.IsZero() {
		return nil, &PlanningError{AssignmentID: a.ID, Reason: "missing due date"}
	}
	if err := validate.Struct(a); err != nil {
		return nil, &PlanningError{AssignmentID: a.ID, Reason: err.Error()}
	}
	return uniqueRecipients(a.ID, recipients)
}

func uniqueRecipients(assignmentID int64, recipients []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(recipients))
	unique := make([]int64, 0, len(recipients))
	for _, id := range recipients {
		if id <= 0 {
			return nil, &PlanningError{AssignmentID: assignmentID, Reason: "invalid recipient id"}
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique, nil
}
