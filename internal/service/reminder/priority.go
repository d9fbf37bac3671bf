package reminder

import "homework-reminder/internal/model"

// PriorityFor maps a reminder kind to the notification priority it is delivered with.
func PriorityFor(kind model.ReminderKind) model.Priority {
	switch kind {
	case model.KindOverdue:
		return model.PriorityUrgent
	case model.KindDue1h:
		return model.PriorityHigh
	case model.KindDue24h, model.KindDue12h, model.KindDue6h:
		return model.PriorityNormal
	case model.KindCustom:
		return model.PriorityNormal
	}
	return model.PriorityLow
}
