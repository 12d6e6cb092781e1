package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "notifications_fanout"

// Publisher is the subset of *amqp.Channel used to hand messages to an
// external sender.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type amqpMessage struct {
	DeliveryID string    `json:"delivery_id"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

type AMQPChannel struct {
	name      string
	exchange  string
	publisher Publisher
}

func NewAMQPChannel(name string, publisher Publisher, exchange string) *AMQPChannel {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPChannel{name: name, exchange: exchange, publisher: publisher}
}

func (c *AMQPChannel) Name() string { return c.name }

func (c *AMQPChannel) Send(ctx context.Context, target, subject, body string) (string, error) {
	message := amqpMessage{
		DeliveryID: uuid.NewString(),
		Channel:    c.name,
		Recipient:  target,
		Subject:    subject,
		Message:    body,
		CreatedAt:  time.Now().UTC(),
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = c.publisher.PublishWithContext(ctx,
		c.exchange, // exchange
		c.name,     // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    message.DeliveryID,
			Body:         raw,
			Timestamp:    message.CreatedAt,
		})
	if err != nil {
		return "", fmt.Errorf("publish %s notification: %w", c.name, err)
	}
	return message.DeliveryID, nil
}

// AMQPConnection owns the broker connection and the channel the
// notification channels publish on.
type AMQPConnection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects and declares the fanout exchange.
func DialAMQP(url, exchange string) (*AMQPConnection, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPConnection{conn: conn, ch: ch}, nil
}

func (c *AMQPConnection) Publisher() Publisher {
	return c.ch
}

func (c *AMQPConnection) Close() error {
	if c.ch != nil && !c.ch.IsClosed() {
		if err := c.ch.Close(); err != nil {
			return fmt.Errorf("close amqp channel: %w", err)
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("close amqp connection: %w", err)
		}
	}
	return nil
}
