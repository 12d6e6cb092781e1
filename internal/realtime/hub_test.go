package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewHub(quietLogger())
	admin := NewClient("admin")
	ticket := NewClient("ticket")
	hub.Register(admin)
	hub.Register(ticket)
	hub.Subscribe(admin, AdminTopic("r1"))
	hub.Subscribe(ticket, TicketTopic("t1"))

	if got := hub.Publish(AdminTopic("r1"), []byte("snapshot")); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if got := hub.Publish(AdminTopic("r2"), []byte("other")); got != 0 {
		t.Fatalf("cross-tenant delivery: %d", got)
	}
	if msg := <-admin.Send; string(msg) != "snapshot" {
		t.Fatalf("unexpected message %s", msg)
	}
	select {
	case msg := <-ticket.Send:
		t.Fatalf("ticket client received %s", msg)
	default:
	}

	hub.Unsubscribe(admin, "")
	if got := hub.Publish(AdminTopic("r1"), []byte("again")); got != 0 {
		t.Fatalf("unsubscribed client still receives")
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub(quietLogger())
	client := NewClient("slow")
	hub.Register(client)
	hub.Subscribe(client, PublicTopic("r1"))
	for i := 0; i < clientBuffer; i++ {
		hub.Publish(PublicTopic("r1"), []byte("x"))
	}
	if got := hub.Publish(PublicTopic("r1"), []byte("overflow")); got != 0 {
		t.Fatalf("expected overflow to be dropped")
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("client not removed")
	}
}

func TestBroadcasterEnvelope(t *testing.T) {
	hub := NewHub(quietLogger())
	client := NewClient("c1")
	hub.Register(client)
	hub.Subscribe(client, TicketTopic("t1"))
	hub.Subscribe(client, PublicTopic("r1"))

	b := NewBroadcaster(NewLocalPublisher(hub), quietLogger())
	b.now = func() time.Time { return time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	b.EmitTicket(ctx, "t1", EventPositionUpdated, map[string]int{"position": 2})
	b.EmitPublicAggregate(ctx, "r1", map[string]int{"waitingCount": 4})
	b.EmitSnapshot(ctx, "r1", []string{"ignored"})

	var first, second Envelope
	if err := json.Unmarshal(<-client.Send, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(<-client.Send, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Event != EventPositionUpdated || first.Topic != "ticket:t1" || string(first.Data) != `{"position":2}` {
		t.Fatalf("unexpected ticket envelope %+v", first)
	}
	if second.Event != EventQueueStatusUpdated || second.Topic != "public:r1" {
		t.Fatalf("unexpected aggregate envelope %+v", second)
	}
	select {
	case msg := <-client.Send:
		t.Fatalf("snapshot leaked to non-admin client: %s", msg)
	default:
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, []byte) error {
	p.calls++
	return io.ErrClosedPipe
}

func TestBroadcasterSwallowsPublishErrors(t *testing.T) {
	publisher := &failingPublisher{}
	b := NewBroadcaster(publisher, quietLogger())
	b.EmitSnapshot(context.Background(), "r1", map[string]string{})
	if publisher.calls != 1 {
		t.Fatalf("expected publish attempt")
	}
	b.EmitSnapshot(context.Background(), "r1", make(chan int))
	if publisher.calls != 1 {
		t.Fatalf("unencodable payload should not be published")
	}
}

func TestRelayHandle(t *testing.T) {
	hub := NewHub(quietLogger())
	client := NewClient("c1")
	hub.Register(client)
	hub.Subscribe(client, AdminTopic("r1"))
	relay := &Relay{channel: DefaultRedisChannel, hub: hub, logger: quietLogger()}

	relay.handle(`{"topic":"admin:r1","payload":{"event":"queue-updated"}}`)
	relay.handle(`not json`)
	relay.handle(`{"payload":{}}`)

	if msg := <-client.Send; string(msg) != `{"event":"queue-updated"}` {
		t.Fatalf("unexpected relayed payload %s", msg)
	}
	select {
	case msg := <-client.Send:
		t.Fatalf("malformed message relayed: %s", msg)
	default:
	}
}
