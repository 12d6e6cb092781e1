package store

import "qms/waitlist-service/internal/models"

const (
	ActionNotify   = "notify"
	ActionCall     = "call"
	ActionComplete = "complete"
	ActionNoShow   = "no_show"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]models.EntryStatus{
	ActionNotify:   {models.StatusWaiting},
	ActionCall:     {models.StatusWaiting, models.StatusNotified},
	ActionComplete: {models.StatusCalled},
	ActionNoShow:   {models.StatusCalled},
	ActionCancel:   {models.StatusWaiting, models.StatusNotified},
}

var actionTargets = map[string]models.EntryStatus{
	ActionNotify:   models.StatusNotified,
	ActionCall:     models.StatusCalled,
	ActionComplete: models.StatusDone,
	ActionNoShow:   models.StatusNoShow,
	ActionCancel:   models.StatusCancelled,
}

func ValidTransition(action string, fromStatus models.EntryStatus) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func AllowedFrom(action string) []models.EntryStatus {
	return transitionMap[action]
}

func TargetStatus(action string) models.EntryStatus {
	return actionTargets[action]
}

// ActionFor maps a requested target status to the event that reaches it.
func ActionFor(target models.EntryStatus) (string, bool) {
	for action, status := range actionTargets {
		if status == target {
			return action, true
		}
	}
	return "", false
}

func EventType(action string) string {
	switch action {
	case ActionNotify:
		return "entry.notified"
	case ActionCall:
		return "entry.called"
	case ActionComplete:
		return "entry.completed"
	case ActionNoShow:
		return "entry.no_show"
	case ActionCancel:
		return "entry.cancelled"
	}
	return "entry." + action
}
