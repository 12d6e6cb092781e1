// Package queue implements the waitlist operations used by the admin console
// and the public join page. Each mutation commits synchronously; the
// recalculate, notify and broadcast chain that follows runs on a Runner.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/notify"
	"qms/waitlist-service/internal/position"
	"qms/waitlist-service/internal/store"
	"qms/waitlist-service/internal/tenant"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	averageWaitLookback = 24 * time.Hour
	noShowBatchSize     = 100
)

// Broadcaster receives post-mutation state. Implementations must not block
// or fail the caller.
type Broadcaster interface {
	EmitSnapshot(ctx context.Context, restaurantID string, data any)
	EmitTicket(ctx context.Context, ticketID, event string, data any)
	EmitPublicAggregate(ctx context.Context, restaurantID string, data any)
}

const (
	eventPositionUpdated = "position-updated"
	eventStatusChanged   = "status-changed"
)

type Service struct {
	store       store.EntryStore
	tenants     tenant.Directory
	engine      *position.Engine
	trigger     *notify.Trigger
	broadcaster Broadcaster
	runner      Runner
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	aggMu         sync.Mutex
	lastAggregate map[string]PublicAggregate
}

type Option func(*Service)

// WithClock overrides the service clock. Times are truncated to
// microseconds so they survive a round trip through Postgres.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRunner(runner Runner) Option {
	return func(s *Service) { s.runner = runner }
}

// WithTrigger enables staged customer notifications.
func WithTrigger(trigger *notify.Trigger) Option {
	return func(s *Service) { s.trigger = trigger }
}

func WithBroadcaster(broadcaster Broadcaster) Option {
	return func(s *Service) { s.broadcaster = broadcaster }
}

func NewService(entries store.EntryStore, tenants tenant.Directory, opts ...Option) *Service {
	s := &Service{
		store:         entries,
		tenants:       tenants,
		engine:        position.NewEngine(entries),
		broadcaster:   nopBroadcaster{},
		runner:        InlineRunner{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("qms/waitlist-service/queue"),
		now:           time.Now,
		lastAggregate: make(map[string]PublicAggregate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Join adds a customer through the public link.
func (s *Service) Join(ctx context.Context, slugOrCode string, input JoinInput) (models.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Join", trace.WithAttributes(attribute.String("restaurant.key", slugOrCode)))
	defer span.End()

	restaurant, err := s.resolve(ctx, slugOrCode)
	if err != nil {
		return models.QueueEntry{}, spanError(span, err)
	}
	entry, err := s.create(ctx, restaurant, input, true)
	return entry, spanError(span, err)
}

// AddManually adds a walk-in from the admin console. Operating hours and the
// email requirement do not apply.
func (s *Service) AddManually(ctx context.Context, restaurantID string, input JoinInput) (models.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "queue.AddManually", trace.WithAttributes(attribute.String("restaurant.id", restaurantID)))
	defer span.End()

	restaurant, err := s.restaurant(ctx, restaurantID)
	if err != nil {
		return models.QueueEntry{}, spanError(span, err)
	}
	entry, err := s.create(ctx, restaurant, input, false)
	return entry, spanError(span, err)
}

func (s *Service) create(ctx context.Context, restaurant models.Restaurant, input JoinInput, public bool) (models.QueueEntry, error) {
	now := s.clock()
	if !restaurant.IsActive {
		return models.QueueEntry{}, errRestaurantInactive
	}
	if !restaurant.QueueActive {
		return models.QueueEntry{}, errQueueInactive
	}
	if public && !tenant.IsOpen(restaurant, now) {
		return models.QueueEntry{}, errRestaurantClosed
	}
	if verr := validatePartySize(input.PartySize, restaurant.MaxPartySize); verr != nil {
		return models.QueueEntry{}, verr
	}
	email, verr := validateEmail(input.Email, public)
	if verr != nil {
		return models.QueueEntry{}, verr
	}
	name, verr := validateName(input.CustomerName)
	if verr != nil {
		return models.QueueEntry{}, verr
	}
	phone, ok := NormalizePhone(input.Phone)
	if !ok {
		return models.QueueEntry{}, badRequest("invalid_phone", "Invalid phone number")
	}

	exists, err := s.store.HasActivePhone(ctx, restaurant.RestaurantID, phone)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("check phone: %w", err)
	}
	if exists {
		return models.QueueEntry{}, errDuplicatePhone
	}

	entry, err := s.store.CreateEntry(ctx, store.CreateEntryInput{
		EntryID:      uuid.NewString(),
		RestaurantID: restaurant.RestaurantID,
		CustomerName: name,
		Phone:        phone,
		Email:        email,
		PartySize:    input.PartySize,
		CustomerID:   input.CustomerID,
		JoinedAt:     now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePhone) {
			return models.QueueEntry{}, errDuplicatePhone
		}
		return models.QueueEntry{}, fmt.Errorf("create entry: %w", err)
	}

	s.logger.InfoContext(ctx, "queue entry created",
		"restaurant_id", restaurant.RestaurantID, "entry_id", entry.EntryID, "party_size", entry.PartySize, "public", public)
	s.schedule(restaurant.RestaurantID, entry.EntryID)
	return entry, nil
}

// List returns active entries by position followed by terminal entries,
// newest first.
func (s *Service) List(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	entries, err := s.store.ListEntries(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	return entries, nil
}

// UpdateStatus drives the entry to the requested status.
func (s *Service) UpdateStatus(ctx context.Context, restaurantID, entryID, status string) (models.QueueEntry, error) {
	target, ok := models.ParseStatus(status)
	if !ok {
		return models.QueueEntry{}, badRequest("invalid_status", "Invalid status %q", status)
	}
	action, ok := store.ActionFor(target)
	if !ok {
		return models.QueueEntry{}, badRequest("invalid_transition", "Cannot move an entry back to %s", target)
	}
	return s.transition(ctx, restaurantID, entryID, action)
}

// Notify marks an entry as notified by staff.
func (s *Service) Notify(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	return s.transition(ctx, restaurantID, entryID, store.ActionNotify)
}

func (s *Service) transition(ctx context.Context, restaurantID, entryID, action string) (models.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Transition", trace.WithAttributes(
		attribute.String("restaurant.id", restaurantID),
		attribute.String("entry.id", entryID),
		attribute.String("entry.action", action),
	))
	defer span.End()

	entry, err := s.store.Transition(ctx, store.TransitionInput{
		RestaurantID: restaurantID,
		EntryID:      entryID,
		Action:       action,
		OccurredAt:   s.clock(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEntryNotFound):
			return models.QueueEntry{}, spanError(span, errEntryNotFound)
		case errors.Is(err, store.ErrInvalidState):
			return models.QueueEntry{}, spanError(span, s.invalidTransition(ctx, restaurantID, entryID, action))
		}
		return models.QueueEntry{}, spanError(span, fmt.Errorf("transition entry: %w", err))
	}

	s.logger.InfoContext(ctx, "queue entry transitioned",
		"restaurant_id", restaurantID, "entry_id", entryID, "action", action, "status", entry.Status)
	s.schedule(restaurantID, entryID)
	return entry, nil
}

func (s *Service) invalidTransition(ctx context.Context, restaurantID, entryID, action string) error {
	target := store.TargetStatus(action)
	current, err := s.store.GetEntry(ctx, restaurantID, entryID)
	if err != nil {
		return badRequest("invalid_transition", "Cannot move entry to %s", target)
	}
	return badRequest("invalid_transition", "Cannot move entry from %s to %s", current.Status, target)
}

// Reorder pins the listed entries at explicit positions and re-densifies the
// queue before returning the updated list.
func (s *Service) Reorder(ctx context.Context, restaurantID string, items []ReorderItem) ([]models.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Reorder", trace.WithAttributes(
		attribute.String("restaurant.id", restaurantID),
		attribute.Int("reorder.items", len(items)),
	))
	defer span.End()

	if len(items) == 0 {
		return nil, spanError(span, badRequest("invalid_reorder", "Reorder requires at least one item"))
	}
	seen := make(map[string]bool, len(items))
	updates := make([]store.ReorderItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return nil, spanError(span, badRequest("invalid_reorder", "Reorder item requires an id"))
		}
		if item.Position < 1 {
			return nil, spanError(span, badRequest("invalid_reorder", "Position must be at least 1"))
		}
		if seen[item.ID] {
			return nil, spanError(span, badRequest("invalid_reorder", "Entry %s listed more than once", item.ID))
		}
		seen[item.ID] = true
		updates = append(updates, store.ReorderItem{EntryID: item.ID, Position: item.Position})
	}

	if err := s.store.Reorder(ctx, restaurantID, updates, s.clock()); err != nil {
		switch {
		case errors.Is(err, store.ErrEntryNotFound):
			return nil, spanError(span, errEntryNotFound)
		case errors.Is(err, store.ErrInvalidState):
			return nil, spanError(span, badRequest("invalid_reorder", "Only active entries can be reordered"))
		}
		return nil, spanError(span, fmt.Errorf("reorder: %w", err))
	}
	if _, err := s.engine.Recalculate(ctx, restaurantID); err != nil {
		return nil, spanError(span, err)
	}

	affected := make([]string, 0, len(items))
	for _, item := range items {
		affected = append(affected, item.ID)
	}
	s.schedule(restaurantID, affected...)
	return s.List(ctx, restaurantID)
}

// PublicStatus returns the anonymous aggregate for a restaurant.
func (s *Service) PublicStatus(ctx context.Context, slugOrCode string) (PublicAggregate, error) {
	restaurant, err := s.resolve(ctx, slugOrCode)
	if err != nil {
		return PublicAggregate{}, err
	}
	active, err := s.store.ListActive(ctx, restaurant.RestaurantID)
	if err != nil {
		return PublicAggregate{}, fmt.Errorf("list active: %w", err)
	}
	return s.aggregate(ctx, restaurant, active), nil
}

// TicketStatus returns a customer's view of their own ticket.
func (s *Service) TicketStatus(ctx context.Context, slugOrCode, ticketID string) (TicketStatus, error) {
	restaurant, err := s.resolve(ctx, slugOrCode)
	if err != nil {
		return TicketStatus{}, err
	}
	entry, err := s.store.GetEntry(ctx, restaurant.RestaurantID, ticketID)
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			return TicketStatus{}, errTicketNotFound
		}
		return TicketStatus{}, fmt.Errorf("get entry: %w", err)
	}
	active, err := s.store.ListActive(ctx, restaurant.RestaurantID)
	if err != nil {
		return TicketStatus{}, fmt.Errorf("list active: %w", err)
	}
	return ticketStatus(restaurant, entry, waitingCount(active)), nil
}

// CheckNoShows moves CALLED entries past the restaurant's called timeout to
// NO_SHOW.
func (s *Service) CheckNoShows(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "queue.CheckNoShows", trace.WithAttributes(attribute.String("restaurant.id", restaurantID)))
	defer span.End()

	restaurant, err := s.restaurant(ctx, restaurantID)
	if err != nil {
		return nil, spanError(span, err)
	}
	timeout := restaurant.CalledTimeout()
	if timeout <= 0 {
		return nil, nil
	}
	now := s.clock()
	marked, err := s.store.MarkNoShows(ctx, restaurantID, now.Add(-timeout), now, noShowBatchSize)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("mark no-shows: %w", err))
	}
	if len(marked) == 0 {
		return nil, nil
	}

	affected := make([]string, 0, len(marked))
	for _, entry := range marked {
		affected = append(affected, entry.EntryID)
	}
	s.logger.InfoContext(ctx, "no-show sweep marked entries", "restaurant_id", restaurantID, "count", len(marked))
	span.SetAttributes(attribute.Int("noshow.count", len(marked)))
	s.schedule(restaurantID, affected...)
	return marked, nil
}

// SweepAll runs CheckNoShows for every restaurant, deactivated ones included,
// and returns the number of entries marked. A failing restaurant does not stop
// the sweep.
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	restaurants, err := s.tenants.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list restaurants: %w", err)
	}
	total := 0
	var errs []error
	for _, restaurant := range restaurants {
		marked, err := s.CheckNoShows(ctx, restaurant.RestaurantID)
		if err != nil {
			s.logger.ErrorContext(ctx, "no-show sweep failed", "restaurant_id", restaurant.RestaurantID, "error", err)
			errs = append(errs, fmt.Errorf("restaurant %s: %w", restaurant.RestaurantID, err))
			continue
		}
		total += len(marked)
	}
	return total, errors.Join(errs...)
}

// Recalculate re-densifies positions without notifying or broadcasting.
func (s *Service) Recalculate(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	return s.engine.Recalculate(ctx, restaurantID)
}

// EvaluateNotifications runs the notification trigger over the current
// active set.
func (s *Service) EvaluateNotifications(ctx context.Context, restaurantID string) ([]notify.Sent, error) {
	if s.trigger == nil {
		return nil, nil
	}
	restaurant, err := s.restaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ListActive(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	return s.trigger.Run(ctx, restaurant, active, s.clock())
}

// History returns the entry's event log and whether its hash chain verifies.
func (s *Service) History(ctx context.Context, restaurantID, entryID string) (EntryHistory, error) {
	events, err := s.store.ListEntryEvents(ctx, restaurantID, entryID)
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			return EntryHistory{}, errEntryNotFound
		}
		return EntryHistory{}, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []store.EntryEvent{}
	}
	broken := store.VerifyEntryEvents(events)
	return EntryHistory{EntryID: entryID, Events: events, Intact: broken == 0, BrokenAt: broken}, nil
}

func (s *Service) schedule(restaurantID string, affected ...string) {
	s.runner.Submit(restaurantID, func(ctx context.Context) {
		s.pass(ctx, restaurantID, affected)
	})
}

// pass recalculates positions, sends due notifications and pushes the
// result to every audience. Failures are logged and end the pass.
func (s *Service) pass(ctx context.Context, restaurantID string, affected []string) {
	ctx, span := s.tracer.Start(ctx, "queue.Pass", trace.WithAttributes(attribute.String("restaurant.id", restaurantID)))
	defer span.End()

	restaurant, err := s.restaurant(ctx, restaurantID)
	if err != nil {
		s.logger.ErrorContext(ctx, "background pass: load restaurant", "restaurant_id", restaurantID, "error", err)
		return
	}
	ordered, err := s.engine.Recalculate(ctx, restaurantID)
	if err != nil {
		s.logger.ErrorContext(ctx, "background pass: recalculate", "restaurant_id", restaurantID, "error", err)
		return
	}

	changed := make(map[string]bool, len(affected))
	for _, id := range affected {
		changed[id] = true
	}
	if s.trigger != nil {
		sent, err := s.trigger.Run(ctx, restaurant, ordered, s.clock())
		if err != nil {
			s.logger.WarnContext(ctx, "background pass: notification trigger", "restaurant_id", restaurantID, "error", err)
		}
		if len(sent) > 0 {
			for _, item := range sent {
				changed[item.EntryID] = true
			}
			if refreshed, err := s.store.ListActive(ctx, restaurantID); err == nil {
				ordered = refreshed
			}
		}
	}
	if ordered == nil {
		ordered = []models.QueueEntry{}
	}
	s.broadcast(ctx, restaurant, ordered, changed)
}

func (s *Service) broadcast(ctx context.Context, restaurant models.Restaurant, ordered []models.QueueEntry, changed map[string]bool) {
	restaurantID := restaurant.RestaurantID
	s.broadcaster.EmitSnapshot(ctx, restaurantID, ordered)

	waiting := waitingCount(ordered)
	byID := make(map[string]models.QueueEntry, len(ordered))
	for _, entry := range ordered {
		byID[entry.EntryID] = entry
		s.broadcaster.EmitTicket(ctx, entry.EntryID, eventPositionUpdated, ticketStatus(restaurant, entry, waiting))
	}
	for id := range changed {
		entry, ok := byID[id]
		if !ok {
			loaded, err := s.store.GetEntry(ctx, restaurantID, id)
			if err != nil {
				s.logger.WarnContext(ctx, "background pass: load changed entry", "entry_id", id, "error", err)
				continue
			}
			entry = loaded
			// Entries that left the queue still get a final position update.
			s.broadcaster.EmitTicket(ctx, id, eventPositionUpdated, ticketStatus(restaurant, entry, waiting))
		}
		s.broadcaster.EmitTicket(ctx, id, eventStatusChanged, statusChange{TicketID: id, Status: entry.Status, Position: ticketStatus(restaurant, entry, waiting).Position})
	}

	aggregate := s.aggregate(ctx, restaurant, ordered)
	s.aggMu.Lock()
	previous, seen := s.lastAggregate[restaurantID]
	if !seen || previous != aggregate {
		s.lastAggregate[restaurantID] = aggregate
	}
	s.aggMu.Unlock()
	if !seen || previous != aggregate {
		s.broadcaster.EmitPublicAggregate(ctx, restaurantID, aggregate)
	}
}

func (s *Service) aggregate(ctx context.Context, restaurant models.Restaurant, active []models.QueueEntry) PublicAggregate {
	aggregate := PublicAggregate{
		WaitingCount:       waitingCount(active),
		RestaurantName:     restaurant.Name,
		AverageWaitMinutes: restaurant.AverageTableTimeMinutes,
	}
	avg, ok, err := s.store.AverageWait(ctx, restaurant.RestaurantID, s.clock().Add(-averageWaitLookback))
	if err != nil {
		s.logger.WarnContext(ctx, "average wait lookup failed", "restaurant_id", restaurant.RestaurantID, "error", err)
		return aggregate
	}
	if ok {
		aggregate.AverageWaitMinutes = roundMinutes(avg)
	}
	return aggregate
}

func (s *Service) resolve(ctx context.Context, slugOrCode string) (models.Restaurant, error) {
	restaurant, err := s.tenants.Resolve(ctx, slugOrCode)
	if err != nil {
		if errors.Is(err, store.ErrRestaurantNotFound) {
			return models.Restaurant{}, errRestaurantNotFound
		}
		return models.Restaurant{}, fmt.Errorf("resolve restaurant: %w", err)
	}
	return restaurant, nil
}

func (s *Service) restaurant(ctx context.Context, restaurantID string) (models.Restaurant, error) {
	restaurant, err := s.tenants.Get(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, store.ErrRestaurantNotFound) {
			return models.Restaurant{}, errRestaurantNotFound
		}
		return models.Restaurant{}, fmt.Errorf("load restaurant: %w", err)
	}
	return restaurant, nil
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type nopBroadcaster struct{}

func (nopBroadcaster) EmitSnapshot(context.Context, string, any)        {}
func (nopBroadcaster) EmitTicket(context.Context, string, string, any)  {}
func (nopBroadcaster) EmitPublicAggregate(context.Context, string, any) {}
