package models

import "time"

type EntryStatus string

const (
	StatusWaiting   EntryStatus = "WAITING"
	StatusNotified  EntryStatus = "NOTIFIED"
	StatusCalled    EntryStatus = "CALLED"
	StatusDone      EntryStatus = "DONE"
	StatusCancelled EntryStatus = "CANCELLED"
	StatusNoShow    EntryStatus = "NO_SHOW"
)

// ActiveStatuses occupy a position in the queue.
var ActiveStatuses = []EntryStatus{StatusWaiting, StatusNotified, StatusCalled}

func (s EntryStatus) Active() bool {
	switch s {
	case StatusWaiting, StatusNotified, StatusCalled:
		return true
	}
	return false
}

func (s EntryStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func ParseStatus(raw string) (EntryStatus, bool) {
	status := EntryStatus(raw)
	if status.Active() || status.Terminal() {
		return status, true
	}
	return "", false
}

type QueueEntry struct {
	EntryID      string      `json:"id"`
	RestaurantID string      `json:"restaurantId"`
	CustomerName string      `json:"customerName"`
	Phone        string      `json:"phone"`
	Email        string      `json:"email,omitempty"`
	PartySize    int         `json:"partySize"`
	CustomerID   *string     `json:"customerId,omitempty"`
	Status       EntryStatus `json:"status"`
	Position     int         `json:"position"`
	ManualOrder  bool        `json:"manualOrder"`
	JoinedAt     time.Time   `json:"joinedAt"`
	NotifiedAt   *time.Time  `json:"notifiedAt,omitempty"`
	CalledAt     *time.Time  `json:"calledAt,omitempty"`
	NoShowAt     *time.Time  `json:"noShowAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
	CancelledAt  *time.Time  `json:"cancelledAt,omitempty"`
}
