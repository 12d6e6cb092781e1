package queue

import (
	"math"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
)

type JoinInput struct {
	CustomerName string `json:"customerName"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	PartySize    int    `json:"partySize"`
	CustomerID   string `json:"customerId,omitempty"`
}

type ReorderItem struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// PublicAggregate is what anonymous viewers of a restaurant's queue see.
type PublicAggregate struct {
	WaitingCount       int    `json:"waitingCount"`
	RestaurantName     string `json:"restaurantName"`
	AverageWaitMinutes int    `json:"averageWaitMinutes"`
}

type TicketStatus struct {
	TicketID             string             `json:"ticketId"`
	Position             int                `json:"position"`
	WaitingCount         int                `json:"waitingCount"`
	Status               models.EntryStatus `json:"status"`
	EstimatedWaitMinutes int                `json:"estimatedWaitMinutes"`
	RestaurantName       string             `json:"restaurantName"`
}

type statusChange struct {
	TicketID string             `json:"ticketId"`
	Status   models.EntryStatus `json:"status"`
	Position int                `json:"position"`
}

type EntryHistory struct {
	EntryID  string             `json:"entryId"`
	Events   []store.EntryEvent `json:"events"`
	Intact   bool               `json:"intact"`
	BrokenAt int                `json:"brokenAt,omitempty"`
}

// waitingCount counts parties still waiting to be called.
func waitingCount(active []models.QueueEntry) int {
	count := 0
	for _, entry := range active {
		if entry.Status == models.StatusWaiting || entry.Status == models.StatusNotified {
			count++
		}
	}
	return count
}

func ticketStatus(restaurant models.Restaurant, entry models.QueueEntry, waiting int) TicketStatus {
	view := TicketStatus{
		TicketID:       entry.EntryID,
		WaitingCount:   waiting,
		Status:         entry.Status,
		RestaurantName: restaurant.Name,
	}
	if entry.Status.Active() {
		view.Position = entry.Position
	}
	if entry.Status == models.StatusWaiting || entry.Status == models.StatusNotified {
		view.EstimatedWaitMinutes = view.Position * restaurant.AverageTableTimeMinutes
	}
	return view
}

func roundMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}
