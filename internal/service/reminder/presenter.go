package reminder

import (
	"fmt"

	"homework-reminder/internal/model"
)

// DefaultPresenter renders plain English text. Real templating lives outside this service.
type DefaultPresenter struct{}

func (DefaultPresenter) Render(kind model.ReminderKind, a model.Assignment) (string, string) {
	name := a.Title
	if a.Subject != "" {
		name = fmt.Sprintf("%s (%s)", a.Title, a.Subject)
	}

	switch kind {
	case model.KindDue24h:
		return "Due in 24 hours", fmt.Sprintf("%s is due in 24 hours.", name)
	case model.KindDue12h:
		return "Due in 12 hours", fmt.Sprintf("%s is due in 12 hours.", name)
	case model.KindDue6h:
		return "Due in 6 hours", fmt.Sprintf("%s is due in 6 hours.", name)
	case model.KindDue1h:
		return "Due in 1 hour", fmt.Sprintf("%s is due in 1 hour.", name)
	case model.KindOverdue:
		return "Overdue", fmt.Sprintf("%s is overdue.", name)
	case model.KindCustom:
		return "Reminder", fmt.Sprintf("Reminder about %s.", name)
	}
	return a.Title, name
}
