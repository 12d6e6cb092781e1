// Package memory implements store.EntryStore in process memory. It is safe
// for concurrent use and backs tests and the database-less local mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
)

var _ store.EntryStore = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	entries  map[string]*models.QueueEntry
	events   map[string][]store.EntryEvent
	sessions map[string]store.Session
	now      func() time.Time
}

func New() *Store {
	return &Store{
		entries:  make(map[string]*models.QueueEntry),
		events:   make(map[string][]store.EntryEvent),
		sessions: make(map[string]store.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddSession registers an admin session, typically seeded from the tenants file.
func (m *Store) AddSession(session store.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID] = session
}

func (m *Store) CreateEntry(_ context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiting := 0
	for _, entry := range m.entries {
		if entry.RestaurantID != input.RestaurantID {
			continue
		}
		if entry.Status.Active() && entry.Phone == input.Phone {
			return models.QueueEntry{}, store.ErrDuplicatePhone
		}
		if entry.Status == models.StatusWaiting {
			waiting++
		}
	}

	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = m.now()
	}
	entry := &models.QueueEntry{
		EntryID:      input.EntryID,
		RestaurantID: input.RestaurantID,
		CustomerName: input.CustomerName,
		Phone:        input.Phone,
		Email:        input.Email,
		PartySize:    input.PartySize,
		Status:       models.StatusWaiting,
		Position:     waiting + 1,
		JoinedAt:     joinedAt,
	}
	if input.CustomerID != "" {
		customerID := input.CustomerID
		entry.CustomerID = &customerID
	}
	m.entries[entry.EntryID] = entry
	m.appendEvent(*entry, store.EventEntryCreated, joinedAt)
	return copyEntry(entry), nil
}

func (m *Store) GetEntry(_ context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[entryID]
	if !ok || entry.RestaurantID != restaurantID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

func (m *Store) ListEntries(_ context.Context, restaurantID string) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active, terminal []models.QueueEntry
	for _, entry := range m.entries {
		if entry.RestaurantID != restaurantID {
			continue
		}
		if entry.Status.Active() {
			active = append(active, copyEntry(entry))
		} else {
			terminal = append(terminal, copyEntry(entry))
		}
	}
	sortByPosition(active)
	sort.SliceStable(terminal, func(i, j int) bool {
		return terminal[i].JoinedAt.After(terminal[j].JoinedAt)
	})
	return append(active, terminal...), nil
}

func (m *Store) ListActive(_ context.Context, restaurantID string) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []models.QueueEntry
	for _, entry := range m.entries {
		if entry.RestaurantID == restaurantID && entry.Status.Active() {
			active = append(active, copyEntry(entry))
		}
	}
	sortByPosition(active)
	return active, nil
}

func (m *Store) HasActivePhone(_ context.Context, restaurantID, phone string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.entries {
		if entry.RestaurantID == restaurantID && entry.Phone == phone && entry.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) ApplyPositions(_ context.Context, restaurantID string, updates []store.PositionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, update := range updates {
		entry, ok := m.entries[update.EntryID]
		if !ok || entry.RestaurantID != restaurantID || !entry.Status.Active() {
			continue
		}
		entry.Position = update.Position
	}
	return nil
}

func (m *Store) Reorder(_ context.Context, restaurantID string, items []store.ReorderItem, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		entry, ok := m.entries[item.EntryID]
		if !ok || entry.RestaurantID != restaurantID {
			return store.ErrEntryNotFound
		}
		if !entry.Status.Active() {
			return store.ErrInvalidState
		}
	}
	for _, item := range items {
		entry := m.entries[item.EntryID]
		entry.Position = item.Position
		entry.ManualOrder = true
		m.appendEvent(*entry, "entry.reordered", at)
	}
	return nil
}

func (m *Store) Transition(_ context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[input.EntryID]
	if !ok || entry.RestaurantID != input.RestaurantID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !store.ValidTransition(input.Action, entry.Status) {
		return models.QueueEntry{}, store.ErrInvalidState
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now()
	}
	store.StampTransition(entry, input.Action, occurredAt)
	m.appendEvent(*entry, store.EventType(input.Action), occurredAt)
	return copyEntry(entry), nil
}

func (m *Store) ClaimNotification(_ context.Context, input store.ClaimInput) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[input.EntryID]
	if !ok || entry.RestaurantID != input.RestaurantID {
		return false, store.ErrEntryNotFound
	}
	if entry.Status != input.ExpectStatus || !sameTime(entry.NotifiedAt, input.ExpectNotifiedAt) {
		return false, nil
	}
	if input.NextStatus != "" {
		entry.Status = input.NextStatus
	}
	entry.NotifiedAt = copyTime(input.NotifiedAt)
	eventAt := m.now()
	if input.NotifiedAt != nil {
		eventAt = *input.NotifiedAt
	}
	if input.EventType != "" {
		m.appendEvent(*entry, input.EventType, eventAt)
	}
	return true, nil
}

func (m *Store) MarkNoShows(_ context.Context, restaurantID string, cutoff, at time.Time, limit int) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*models.QueueEntry
	for _, entry := range m.entries {
		if entry.RestaurantID != restaurantID || entry.Status != models.StatusCalled {
			continue
		}
		if entry.CalledAt != nil && entry.CalledAt.Before(cutoff) {
			expired = append(expired, entry)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CalledAt.Before(*expired[j].CalledAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	result := make([]models.QueueEntry, 0, len(expired))
	for _, entry := range expired {
		store.StampTransition(entry, store.ActionNoShow, at)
		m.appendEvent(*entry, store.EventType(store.ActionNoShow), at)
		result = append(result, copyEntry(entry))
	}
	return result, nil
}

func (m *Store) AverageWait(_ context.Context, restaurantID string, since time.Time) (time.Duration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total time.Duration
	count := 0
	for _, entry := range m.entries {
		if entry.RestaurantID != restaurantID || entry.CalledAt == nil || entry.CalledAt.Before(since) {
			continue
		}
		total += entry.CalledAt.Sub(entry.JoinedAt)
		count++
	}
	if count == 0 {
		return 0, false, nil
	}
	return total / time.Duration(count), true, nil
}

func (m *Store) ListEntryEvents(_ context.Context, restaurantID, entryID string) ([]store.EntryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[entryID]
	if !ok || entry.RestaurantID != restaurantID {
		return nil, store.ErrEntryNotFound
	}
	events := make([]store.EntryEvent, len(m.events[entryID]))
	copy(events, m.events[entryID])
	return events, nil
}

func (m *Store) GetSession(_ context.Context, sessionID string) (store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(m.now()) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

// appendEvent must be called with m.mu held.
func (m *Store) appendEvent(entry models.QueueEntry, eventType string, at time.Time) {
	history := m.events[entry.EntryID]
	var prev *store.EntryEvent
	if len(history) > 0 {
		prev = &history[len(history)-1]
	}
	event := store.NextEntryEvent(prev, entry.EntryID, eventType, store.EventPayload(entry), at)
	m.events[entry.EntryID] = append(history, event)
}

func sortByPosition(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Position != entries[j].Position {
			return entries[i].Position < entries[j].Position
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
}

func copyEntry(entry *models.QueueEntry) models.QueueEntry {
	out := *entry
	out.NotifiedAt = copyTime(entry.NotifiedAt)
	out.CalledAt = copyTime(entry.CalledAt)
	out.NoShowAt = copyTime(entry.NoShowAt)
	out.CompletedAt = copyTime(entry.CompletedAt)
	out.CancelledAt = copyTime(entry.CancelledAt)
	if entry.CustomerID != nil {
		customerID := *entry.CustomerID
		out.CustomerID = &customerID
	}
	return out
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
