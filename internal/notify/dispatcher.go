package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"qms/waitlist-service/internal/models"

	"golang.org/x/sync/errgroup"
)

const deliveryTimeout = 10 * time.Second

// Dispatcher fans a message out to the email and messaging channels at once.
// Channel failures are logged and never returned.
type Dispatcher struct {
	email     Channel
	messaging Channel
	logger    *slog.Logger
}

func NewDispatcher(email, messaging Channel, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{email: email, messaging: messaging, logger: logger}
}

// Deliver sends to the entry's email and phone and reports how many channels
// accepted the message.
func (d *Dispatcher) Deliver(ctx context.Context, entry models.QueueEntry, subject, body string) int {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	var delivered atomic.Int32
	var g errgroup.Group
	send := func(channel Channel, target string) {
		if channel == nil || target == "" {
			return
		}
		g.Go(func() error {
			id, err := channel.Send(ctx, target, subject, body)
			if err != nil {
				d.logger.WarnContext(ctx, "notification delivery failed",
					"channel", channel.Name(), "entry_id", entry.EntryID, "restaurant_id", entry.RestaurantID, "error", err)
				return nil
			}
			delivered.Add(1)
			d.logger.DebugContext(ctx, "notification delivered",
				"channel", channel.Name(), "entry_id", entry.EntryID, "delivery_id", id)
			return nil
		})
	}
	send(d.email, entry.Email)
	send(d.messaging, entry.Phone)
	_ = g.Wait()
	return int(delivered.Load())
}
