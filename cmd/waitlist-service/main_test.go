package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"qms/waitlist-service/internal/config"
	"qms/waitlist-service/internal/queue"
)

const tenantsYAML = `
restaurants:
  - id: r-demo
    slug: demo
    link_code: DEMO42
    name: Demo Bistro
    max_party_size: 4
sessions:
  - {id: staff-demo, user_id: u-1, restaurant_id: r-demo}
`

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Fatal("no configured origins should allow all")
	}
	check := originChecker([]string{"https://demo.example"})
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://demo.example")
	if !check(req) {
		t.Fatal("configured origin should be allowed")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("unknown origin should be rejected")
	}
}

func TestNewAppInMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(tenantsYAML), 0o600); err != nil {
		t.Fatalf("write tenants: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a, err := newApp(ctx, config.Config{TenantsFile: path, EmailProvider: "log", MessagingProvider: "noop", BackgroundWorkers: 1}, logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if _, err := a.entries.GetSession(ctx, "staff-demo"); err != nil {
		t.Fatalf("seeded session missing: %v", err)
	}
	entry, err := a.service.Join(ctx, "DEMO42", queue.JoinInput{CustomerName: "Ana", Phone: "081100000001", Email: "ana@example.com", PartySize: 4})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if entry.RestaurantID != "r-demo" {
		t.Fatalf("unexpected restaurant %q", entry.RestaurantID)
	}
	if err := a.pool.Stop(ctx); err != nil {
		t.Fatalf("stop pool: %v", err)
	}
}

func TestNewAppRequiresAMQPURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := newApp(context.Background(), config.Config{EmailProvider: "amqp"}, logger); err == nil {
		t.Fatal("expected error without AMQP_URL")
	}
}
