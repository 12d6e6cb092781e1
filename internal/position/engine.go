package position

import (
	"context"
	"fmt"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
)

// Engine recomputes and persists positions for one restaurant at a time.
type Engine struct {
	store store.EntryStore
}

func NewEngine(entries store.EntryStore) *Engine {
	return &Engine{store: entries}
}

// Recalculate reads the active set, orders it and writes the changed
// positions as one batch. It returns the ordered active entries.
func (e *Engine) Recalculate(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	active, err := e.store.ListActive(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	ordered := Order(active)
	updates := Changes(active, ordered)
	if len(updates) == 0 {
		return ordered, nil
	}
	if err := e.store.ApplyPositions(ctx, restaurantID, updates); err != nil {
		return nil, fmt.Errorf("apply positions: %w", err)
	}
	return ordered, nil
}
