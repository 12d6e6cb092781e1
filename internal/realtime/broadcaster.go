package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	EventQueueUpdated       = "queue-updated"
	EventQueueStatusUpdated = "queue-status-updated"
	EventPositionUpdated    = "position-updated"
	EventStatusChanged      = "status-changed"
)

func AdminTopic(restaurantID string) string  { return "admin:" + restaurantID }
func PublicTopic(restaurantID string) string { return "public:" + restaurantID }
func TicketTopic(ticketID string) string     { return "ticket:" + ticketID }

type Envelope struct {
	Event  string          `json:"event"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

// Publisher moves an encoded envelope to the subscribers of a topic, either
// through the local hub or through a relay shared by several instances.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// LocalPublisher publishes straight into a hub.
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.hub.Publish(topic, payload)
	return nil
}

// Broadcaster encodes queue events into envelopes. Emits never fail the
// caller; publish errors are logged.
type Broadcaster struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewBroadcaster(publisher Publisher, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{publisher: publisher, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (b *Broadcaster) EmitSnapshot(ctx context.Context, restaurantID string, data any) {
	b.emit(ctx, AdminTopic(restaurantID), EventQueueUpdated, data)
}

func (b *Broadcaster) EmitTicket(ctx context.Context, ticketID, event string, data any) {
	b.emit(ctx, TicketTopic(ticketID), event, data)
}

func (b *Broadcaster) EmitPublicAggregate(ctx context.Context, restaurantID string, data any) {
	b.emit(ctx, PublicTopic(restaurantID), EventQueueStatusUpdated, data)
}

func (b *Broadcaster) emit(ctx context.Context, topic, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.ErrorContext(ctx, "encode realtime payload failed", "topic", topic, "event", event, "error", err)
		return
	}
	payload, err := json.Marshal(Envelope{Event: event, Topic: topic, Data: raw, SentAt: b.now()})
	if err != nil {
		b.logger.ErrorContext(ctx, "encode realtime envelope failed", "topic", topic, "event", event, "error", err)
		return
	}
	if err := b.publisher.Publish(ctx, topic, payload); err != nil {
		b.logger.WarnContext(ctx, "realtime publish failed", "topic", topic, "event", event, "error", err)
	}
}
