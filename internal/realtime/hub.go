// Package realtime fans queue changes out to connected admin consoles and
// customer status pages.
package realtime

import (
	"log/slog"
	"sync"
)

const clientBuffer = 16

type Client struct {
	ID   string
	Send chan []byte

	topics map[string]struct{}
}

func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, clientBuffer), topics: make(map[string]struct{})}
}

// Hub routes payloads to the clients subscribed to a topic. Slow clients
// drop messages instead of blocking publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.topics[topic] = struct{}{}
}

// Unsubscribe removes topic, or every topic when topic is empty.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if topic == "" {
		client.topics = make(map[string]struct{})
		return
	}
	delete(client.topics, topic)
}

// Publish delivers payload to every subscriber of topic and returns how many
// clients received it.
func (h *Hub) Publish(topic string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if _, ok := client.topics[topic]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			h.logger.Warn("drop realtime message", "client_id", client.ID, "topic", topic)
		}
	}
	return delivered
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
