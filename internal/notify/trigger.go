package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
)

const (
	// AheadThreshold is the position that earns the first heads-up.
	AheadThreshold = 3
	// RenotifyWindow is the minimum gap before "you are next" follows an
	// earlier notification.
	RenotifyWindow = 60 * time.Second
	// ReadyWindow bounds how long after a call the ready message is retried.
	ReadyWindow = 120 * time.Second
)

// Decision is one notification an entry is due.
type Decision struct {
	Entry models.QueueEntry
	Stage Stage
}

// Evaluate applies the threshold rules to positioned active entries.
func Evaluate(entries []models.QueueEntry, now time.Time) []Decision {
	var decisions []Decision
	for _, entry := range entries {
		if entry.Email == "" {
			continue
		}
		if stage, ok := due(entry, now); ok {
			decisions = append(decisions, Decision{Entry: entry, Stage: stage})
		}
	}
	return decisions
}

func due(entry models.QueueEntry, now time.Time) (Stage, bool) {
	switch entry.Status {
	case models.StatusWaiting:
		if entry.Position == AheadThreshold && entry.NotifiedAt == nil {
			return StageAhead, true
		}
	case models.StatusNotified:
		if entry.Position == 1 && entry.NotifiedAt != nil && now.Sub(*entry.NotifiedAt) > RenotifyWindow {
			return StageNext, true
		}
	case models.StatusCalled:
		if entry.CalledAt == nil || now.Sub(*entry.CalledAt) > ReadyWindow {
			return "", false
		}
		if entry.NotifiedAt == nil || entry.NotifiedAt.Before(*entry.CalledAt) {
			return StageReady, true
		}
	}
	return "", false
}

// Sent records a notification the trigger delivered.
type Sent struct {
	EntryID string
	Stage   Stage
	Status  models.EntryStatus
}

// Trigger claims due notifications in the store and delivers them. A claim is
// a compare-and-set on (status, notifiedAt), so concurrent passes over the
// same queue send each threshold once.
type Trigger struct {
	store      store.EntryStore
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewTrigger(entries store.EntryStore, dispatcher *Dispatcher, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{store: entries, dispatcher: dispatcher, logger: logger}
}

// Run evaluates entries at now and sends what is due. Store errors abort the
// pass; delivery errors never do.
func (t *Trigger) Run(ctx context.Context, restaurant models.Restaurant, entries []models.QueueEntry, now time.Time) ([]Sent, error) {
	var sent []Sent
	for _, decision := range Evaluate(entries, now) {
		entry := decision.Entry
		claim := claimFor(decision, now)
		won, err := t.store.ClaimNotification(ctx, claim)
		if err != nil {
			return sent, fmt.Errorf("claim %s notification for %s: %w", decision.Stage, entry.EntryID, err)
		}
		if !won {
			continue
		}

		subject, body := ComposeMessage(decision.Stage, restaurant.Name, entry.CustomerName)
		delivered := t.dispatcher.Deliver(ctx, entry, subject, body)
		if delivered == 0 && decision.Stage == StageReady {
			t.release(ctx, claim)
			continue
		}

		status := entry.Status
		if claim.NextStatus != "" {
			status = claim.NextStatus
		}
		sent = append(sent, Sent{EntryID: entry.EntryID, Stage: decision.Stage, Status: status})
		t.logger.InfoContext(ctx, "queue notification sent",
			"restaurant_id", restaurant.RestaurantID, "entry_id", entry.EntryID, "stage", decision.Stage, "channels", delivered)
	}
	return sent, nil
}

func claimFor(decision Decision, now time.Time) store.ClaimInput {
	stamp := now
	claim := store.ClaimInput{
		RestaurantID:     decision.Entry.RestaurantID,
		EntryID:          decision.Entry.EntryID,
		ExpectStatus:     decision.Entry.Status,
		ExpectNotifiedAt: decision.Entry.NotifiedAt,
		NotifiedAt:       &stamp,
		EventType:        decision.Stage.EventType(),
	}
	if decision.Stage == StageAhead {
		claim.NextStatus = models.StatusNotified
	}
	return claim
}

// release undoes a ready claim whose delivery failed everywhere so a later
// pass inside the ready window retries it.
func (t *Trigger) release(ctx context.Context, claim store.ClaimInput) {
	undo := store.ClaimInput{
		RestaurantID:     claim.RestaurantID,
		EntryID:          claim.EntryID,
		ExpectStatus:     claim.ExpectStatus,
		ExpectNotifiedAt: claim.NotifiedAt,
		NotifiedAt:       claim.ExpectNotifiedAt,
	}
	if _, err := t.store.ClaimNotification(ctx, undo); err != nil {
		t.logger.WarnContext(ctx, "release ready notification claim failed", "entry_id", claim.EntryID, "error", err)
	}
}
