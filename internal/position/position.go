// Package position orders a restaurant's active queue entries.
//
// Staff-pinned entries (manualOrder) come first and keep their relative
// order, taken from their current position with joinedAt as tiebreak. Every
// other entry follows in join order. Positions are dense and 1-based.
//
// Recalculation is a full pass over the active set. Queues are tens of
// entries per restaurant; an order-statistics tree keyed by the same sort
// tuple would be the replacement if that stops holding.
package position

import (
	"sort"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
)

// Order returns the active entries of entries sorted into queue order with
// Position rewritten 1..N. The input slice is not modified.
func Order(entries []models.QueueEntry) []models.QueueEntry {
	active := make([]models.QueueEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status.Active() {
			active = append(active, entry)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return less(active[i], active[j])
	})
	for i := range active {
		active[i].Position = i + 1
	}
	return active
}

func less(a, b models.QueueEntry) bool {
	if a.ManualOrder != b.ManualOrder {
		return a.ManualOrder
	}
	if a.ManualOrder && a.Position != b.Position {
		return a.Position < b.Position
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.EntryID < b.EntryID
}

// Changes lists the position writes needed to move before to after. Entries
// whose position is unchanged are omitted.
func Changes(before, after []models.QueueEntry) []store.PositionUpdate {
	current := make(map[string]int, len(before))
	for _, entry := range before {
		current[entry.EntryID] = entry.Position
	}
	var updates []store.PositionUpdate
	for _, entry := range after {
		if pos, ok := current[entry.EntryID]; ok && pos == entry.Position {
			continue
		}
		updates = append(updates, store.PositionUpdate{EntryID: entry.EntryID, Position: entry.Position})
	}
	return updates
}

// Dense reports whether the active entries hold positions 1..N exactly once.
func Dense(entries []models.QueueEntry) bool {
	seen := make(map[int]bool)
	count := 0
	for _, entry := range entries {
		if !entry.Status.Active() {
			continue
		}
		count++
		if entry.Position < 1 || seen[entry.Position] {
			return false
		}
		seen[entry.Position] = true
	}
	for i := 1; i <= count; i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}
