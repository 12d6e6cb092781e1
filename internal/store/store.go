package store

import (
	"context"
	"time"

	"qms/waitlist-service/internal/models"
)

type CreateEntryInput struct {
	EntryID      string
	RestaurantID string
	CustomerName string
	Phone        string
	Email        string
	PartySize    int
	CustomerID   string
	JoinedAt     time.Time
}

type TransitionInput struct {
	RestaurantID string
	EntryID      string
	Action       string
	OccurredAt   time.Time
}

type PositionUpdate struct {
	EntryID  string
	Position int
}

type ReorderItem struct {
	EntryID  string
	Position int
}

// ClaimInput is a compare-and-set on an entry's notification state. The
// update applies only while the entry still has ExpectStatus and
// ExpectNotifiedAt (nil meaning never notified).
type ClaimInput struct {
	RestaurantID     string
	EntryID          string
	ExpectStatus     models.EntryStatus
	ExpectNotifiedAt *time.Time
	NextStatus       models.EntryStatus
	NotifiedAt       *time.Time
	EventType        string
}

type EntryStore interface {
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error)
	GetEntry(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error)
	ListEntries(ctx context.Context, restaurantID string) ([]models.QueueEntry, error)
	ListActive(ctx context.Context, restaurantID string) ([]models.QueueEntry, error)
	HasActivePhone(ctx context.Context, restaurantID, phone string) (bool, error)
	ApplyPositions(ctx context.Context, restaurantID string, updates []PositionUpdate) error
	Reorder(ctx context.Context, restaurantID string, items []ReorderItem, at time.Time) error
	Transition(ctx context.Context, input TransitionInput) (models.QueueEntry, error)
	ClaimNotification(ctx context.Context, input ClaimInput) (bool, error)
	MarkNoShows(ctx context.Context, restaurantID string, cutoff, at time.Time, limit int) ([]models.QueueEntry, error)
	AverageWait(ctx context.Context, restaurantID string, since time.Time) (time.Duration, bool, error)
	ListEntryEvents(ctx context.Context, restaurantID, entryID string) ([]EntryEvent, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Session struct {
	SessionID string
	UserID    string
	TenantID  string
	Role      string
	ExpiresAt time.Time
}

// TimestampField names the entry timestamp an action stamps.
func TimestampField(action string) string {
	switch action {
	case ActionNotify:
		return "notified_at"
	case ActionCall:
		return "called_at"
	case ActionComplete:
		return "completed_at"
	case ActionNoShow:
		return "no_show_at"
	case ActionCancel:
		return "cancelled_at"
	}
	return ""
}

// StampTransition applies the status and timestamp of action to entry.
// Entries leaving the active set drop their position.
func StampTransition(entry *models.QueueEntry, action string, at time.Time) {
	entry.Status = TargetStatus(action)
	stamp := at
	switch action {
	case ActionNotify:
		entry.NotifiedAt = &stamp
	case ActionCall:
		entry.CalledAt = &stamp
	case ActionComplete:
		entry.CompletedAt = &stamp
	case ActionNoShow:
		entry.NoShowAt = &stamp
	case ActionCancel:
		entry.CancelledAt = &stamp
	}
	if entry.Status.Terminal() {
		entry.Position = 0
	}
}
