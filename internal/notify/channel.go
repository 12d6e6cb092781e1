// Package notify delivers customer notifications and decides when a queue
// entry is due one.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel sends one message to one recipient and returns a delivery id.
type Channel interface {
	Name() string
	Send(ctx context.Context, target, subject, body string) (string, error)
}

type ChannelConfig struct {
	// Name is the logical channel, "email" or "messaging".
	Name string
	// Kind selects the provider: log (default), mock, noop, fail, webhook,
	// amqp, or an http(s) URL for an unauthenticated webhook.
	Kind         string
	WebhookURL   string
	WebhookToken string
	Publisher    Publisher
	Exchange     string
	HTTPClient   *http.Client
}

var ErrDeliveryFailed = errors.New("provider failure")

func NewChannel(cfg ChannelConfig, logger *slog.Logger) Channel {
	if logger == nil {
		logger = slog.Default()
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch kind {
	case "", "log", "mock", "stub":
		return logChannel{name: cfg.Name, logger: logger}
	case "noop":
		return noopChannel{name: cfg.Name}
	case "fail":
		return failChannel{name: cfg.Name}
	case "webhook":
		if cfg.WebhookURL == "" {
			logger.Warn("webhook url missing, falling back to log channel", "channel", cfg.Name)
			return logChannel{name: cfg.Name, logger: logger}
		}
		return newWebhookChannel(cfg)
	case "amqp":
		if cfg.Publisher == nil {
			logger.Warn("amqp publisher missing, falling back to log channel", "channel", cfg.Name)
			return logChannel{name: cfg.Name, logger: logger}
		}
		return NewAMQPChannel(cfg.Name, cfg.Publisher, cfg.Exchange)
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			cfg.WebhookURL = strings.TrimSpace(cfg.Kind)
			cfg.WebhookToken = ""
			return newWebhookChannel(cfg)
		}
		logger.Warn("unknown notification provider, using log channel", "channel", cfg.Name, "kind", cfg.Kind)
		return logChannel{name: cfg.Name, logger: logger}
	}
}

// logChannel always succeeds and logs the message. It stands in for a real
// provider when none is configured.
type logChannel struct {
	name   string
	logger *slog.Logger
}

func (c logChannel) Name() string { return c.name }

func (c logChannel) Send(ctx context.Context, target, subject, body string) (string, error) {
	id := uuid.NewString()
	c.logger.InfoContext(ctx, "notification sent", "channel", c.name, "recipient", target, "subject", subject, "message", body, "delivery_id", id)
	return id, nil
}

type noopChannel struct {
	name string
}

func (c noopChannel) Name() string { return c.name }

func (noopChannel) Send(context.Context, string, string, string) (string, error) {
	return uuid.NewString(), nil
}

type failChannel struct {
	name string
}

func (c failChannel) Name() string { return c.name }

func (failChannel) Send(context.Context, string, string, string) (string, error) {
	return "", ErrDeliveryFailed
}

type webhookChannel struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func newWebhookChannel(cfg ChannelConfig) webhookChannel {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return webhookChannel{name: cfg.Name, url: cfg.WebhookURL, token: cfg.WebhookToken, client: client}
}

func (c webhookChannel) Name() string { return c.name }

func (c webhookChannel) Send(ctx context.Context, target, subject, body string) (string, error) {
	id := uuid.NewString()
	payload := map[string]string{
		"delivery_id": id,
		"channel":     c.name,
		"recipient":   target,
		"subject":     subject,
		"message":     body,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return id, nil
}
