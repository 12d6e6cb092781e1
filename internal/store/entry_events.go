package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/waitlist-service/internal/models"
)

const EventEntryCreated = "entry.created"

type EntryEvent struct {
	EntryID   string          `json:"entryId"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	PrevHash  string          `json:"prevHash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	EntryID      string             `json:"entry_id"`
	RestaurantID string             `json:"restaurant_id"`
	Status       models.EntryStatus `json:"status"`
	Position     *int               `json:"position,omitempty"`
	ManualOrder  *bool              `json:"manual_order,omitempty"`
	PartySize    int                `json:"party_size,omitempty"`
	JoinedAt     *time.Time         `json:"joined_at,omitempty"`
	NotifiedAt   *time.Time         `json:"notified_at,omitempty"`
	CalledAt     *time.Time         `json:"called_at,omitempty"`
	NoShowAt     *time.Time         `json:"no_show_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
}

// EventPayload captures the state of entry after the event was applied.
func EventPayload(entry models.QueueEntry) json.RawMessage {
	position := entry.Position
	manual := entry.ManualOrder
	payload := eventPayload{
		EntryID:      entry.EntryID,
		RestaurantID: entry.RestaurantID,
		Status:       entry.Status,
		Position:     &position,
		ManualOrder:  &manual,
		PartySize:    entry.PartySize,
		NotifiedAt:   entry.NotifiedAt,
		CalledAt:     entry.CalledAt,
		NoShowAt:     entry.NoShowAt,
		CompletedAt:  entry.CompletedAt,
		CancelledAt:  entry.CancelledAt,
	}
	if !entry.JoinedAt.IsZero() {
		joined := entry.JoinedAt
		payload.JoinedAt = &joined
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NextEntryEvent chains a new event after prev (nil for the first event).
func NextEntryEvent(prev *EntryEvent, entryID, eventType string, payload json.RawMessage, createdAt time.Time) EntryEvent {
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.Seq + 1
		prevHash = prev.Hash
	}
	return EntryEvent{
		EntryID:   entryID,
		Seq:       seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeEntryEventHash(prevHash, entryID, eventType, payload, createdAt, seq),
	}
}

// VerifyEntryEvents reports the sequence number of the first event whose hash
// does not match the chain, or 0 when the chain is intact.
func VerifyEntryEvents(events []EntryEvent) int {
	prevHash := ""
	for i, event := range events {
		if event.Seq != i+1 || event.PrevHash != prevHash {
			return event.Seq
		}
		if ComputeEntryEventHash(prevHash, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.Seq) != event.Hash {
			return event.Seq
		}
		prevHash = event.Hash
	}
	return 0
}

// RehydrateEntry replays the event payloads into the last known entry state.
func RehydrateEntry(events []EntryEvent) (models.QueueEntry, error) {
	var entry models.QueueEntry
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.QueueEntry{}, err
		}
		if payload.EntryID != "" {
			entry.EntryID = payload.EntryID
		}
		if payload.RestaurantID != "" {
			entry.RestaurantID = payload.RestaurantID
		}
		if payload.Status != "" {
			entry.Status = payload.Status
		}
		if payload.Position != nil {
			entry.Position = *payload.Position
		}
		if payload.ManualOrder != nil {
			entry.ManualOrder = *payload.ManualOrder
		}
		if payload.PartySize > 0 {
			entry.PartySize = payload.PartySize
		}
		if payload.JoinedAt != nil {
			entry.JoinedAt = *payload.JoinedAt
		}
		if payload.NotifiedAt != nil {
			entry.NotifiedAt = payload.NotifiedAt
		}
		if payload.CalledAt != nil {
			entry.CalledAt = payload.CalledAt
		}
		if payload.NoShowAt != nil {
			entry.NoShowAt = payload.NoShowAt
		}
		if payload.CompletedAt != nil {
			entry.CompletedAt = payload.CompletedAt
		}
		if payload.CancelledAt != nil {
			entry.CancelledAt = payload.CancelledAt
		}
	}
	return entry, nil
}
