package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisRelayRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is required for redis tests")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "waitlist:test:" + time.Now().Format("150405.000000")
	hub := NewHub(quietLogger())
	subscriber := NewClient("c1")
	hub.Register(subscriber)
	hub.Subscribe(subscriber, AdminTopic("r1"))

	relay := NewRelay(client, channel, hub, quietLogger())
	go func() { _ = relay.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	b := NewBroadcaster(NewRedisPublisher(client, channel), quietLogger())
	b.EmitSnapshot(ctx, "r1", []string{})

	select {
	case <-subscriber.Send:
	case <-ctx.Done():
		t.Fatalf("relay did not deliver")
	}
}
