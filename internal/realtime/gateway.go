package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"

	"github.com/google/uuid"
)

const (
	closeMissingSession = 4001
	closeInvalidSession = 4002
	closeAccessDenied   = 4003
)

const (
	TopicAdmin  = "admin"
	TopicPublic = "public"
	TopicTicket = "ticket"
)

// SubscribeMessage is sent by clients to pick the streams they follow.
type SubscribeMessage struct {
	Action     string `json:"action"`
	Topic      string `json:"topic"`
	Restaurant string `json:"restaurant"`
	TicketID   string `json:"ticket_id"`
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

// Conn is one client connection, SockJS or WebSocket.
type Conn interface {
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

type RestaurantResolver interface {
	Resolve(ctx context.Context, slugOrCode string) (models.Restaurant, error)
}

type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
}

type EntryLookup interface {
	GetEntry(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error)
}

// Gateway authorizes subscriptions and pumps hub messages to a connection.
type Gateway struct {
	hub         *Hub
	restaurants RestaurantResolver
	sessions    SessionLookup
	entries     EntryLookup
	logger      *slog.Logger
}

func NewGateway(hub *Hub, restaurants RestaurantResolver, sessions SessionLookup, entries EntryLookup, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{hub: hub, restaurants: restaurants, sessions: sessions, entries: entries, logger: logger}
}

// Serve runs until the connection's Recv fails or the gateway closes it.
func (g *Gateway) Serve(conn Conn, r *http.Request) {
	ctx := context.Background()
	if r != nil {
		ctx = context.WithoutCancel(r.Context())
	}
	client := NewClient(uuid.NewString())
	g.hub.Register(client)
	defer g.hub.Unregister(client)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				_ = conn.Send(string(msg))
			case <-done:
				return
			}
		}
	}()

	for {
		raw, err := conn.Recv()
		if err != nil {
			return
		}
		msg, ok := ParseSubscribe([]byte(raw))
		if !ok {
			continue
		}
		if msg.Action == "unsubscribe" && msg.Topic == "" {
			g.hub.Unsubscribe(client, "")
			continue
		}
		topic, status, reason := g.authorize(ctx, msg, r)
		if status != 0 {
			_ = conn.Close(status, reason)
			return
		}
		if topic == "" {
			g.reply(client, "error", map[string]string{"message": reason})
			continue
		}
		if msg.Action == "unsubscribe" {
			g.hub.Unsubscribe(client, topic)
			g.reply(client, "unsubscribed", map[string]string{"topic": topic})
			continue
		}
		g.hub.Subscribe(client, topic)
		g.reply(client, "subscribed", map[string]string{"topic": topic})
	}
}

// authorize resolves msg into a hub topic. A non-zero status closes the
// connection; an empty topic with a reason is reported back to the client.
func (g *Gateway) authorize(ctx context.Context, msg SubscribeMessage, r *http.Request) (string, uint32, string) {
	switch msg.Topic {
	case TopicAdmin:
		sessionID := SessionIDFromRequest(r)
		if sessionID == "" {
			return "", closeMissingSession, "missing session"
		}
		session, err := g.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return "", closeInvalidSession, "invalid session"
		}
		if msg.Restaurant != "" && msg.Restaurant != session.TenantID {
			restaurant, err := g.restaurants.Resolve(ctx, msg.Restaurant)
			if err != nil || restaurant.RestaurantID != session.TenantID {
				return "", closeAccessDenied, "access denied"
			}
		}
		return AdminTopic(session.TenantID), 0, ""
	case TopicPublic:
		restaurant, err := g.restaurants.Resolve(ctx, msg.Restaurant)
		if err != nil {
			return "", 0, lookupReason(err, "restaurant not found")
		}
		return PublicTopic(restaurant.RestaurantID), 0, ""
	case TopicTicket:
		restaurant, err := g.restaurants.Resolve(ctx, msg.Restaurant)
		if err != nil {
			return "", 0, lookupReason(err, "restaurant not found")
		}
		if _, err := g.entries.GetEntry(ctx, restaurant.RestaurantID, msg.TicketID); err != nil {
			return "", 0, lookupReason(err, "ticket not found")
		}
		return TicketTopic(msg.TicketID), 0, ""
	}
	return "", 0, "unknown topic"
}

func (g *Gateway) reply(client *Client, event string, data any) {
	raw, _ := json.Marshal(data)
	payload, _ := json.Marshal(Envelope{Event: event, Data: raw, SentAt: time.Now().UTC()})
	select {
	case client.Send <- payload:
	default:
		g.logger.Warn("drop realtime reply", "client_id", client.ID, "event", event)
	}
}

func lookupReason(err error, notFound string) string {
	if errors.Is(err, store.ErrRestaurantNotFound) || errors.Is(err, store.ErrEntryNotFound) {
		return notFound
	}
	return "lookup failed"
}

func SessionIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}

func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
