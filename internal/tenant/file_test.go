package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/waitlist-service/internal/store"
)

const sampleFile = `
restaurants:
  - id: r-demo
    slug: demo
    link_code: DEMO42
    name: Demo Bistro
    max_party_size: 10
    hours:
      - {weekday: monday, open: "11:00", close: "22:00"}
  - id: r-closed
    slug: closed
    active: false
sessions:
  - {id: staff-demo, user_id: u-1, restaurant_id: r-demo}
`

func TestParseFileDefaults(t *testing.T) {
	file, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	restaurants, err := file.Models()
	if err != nil {
		t.Fatalf("restaurants: %v", err)
	}
	if len(restaurants) != 2 {
		t.Fatalf("expected 2 restaurants, got %d", len(restaurants))
	}
	demo := restaurants[0]
	if !demo.IsActive || !demo.QueueActive || demo.MaxPartySize != 10 || demo.AverageTableTimeMinutes != 15 || demo.CalledTimeoutMinutes != 5 {
		t.Fatalf("unexpected defaults: %+v", demo)
	}
	if len(demo.Hours) != 1 || demo.Hours[0].Weekday != time.Monday {
		t.Fatalf("unexpected hours: %+v", demo.Hours)
	}
	if restaurants[1].IsActive || restaurants[1].Name != "closed" {
		t.Fatalf("unexpected closed restaurant: %+v", restaurants[1])
	}

	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	sessions := file.StoreSessions(now)
	if len(sessions) != 1 || sessions[0].TenantID != "r-demo" || sessions[0].Role != "staff" || !sessions[0].ExpiresAt.After(now) {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestParseFileRejectsBadRecords(t *testing.T) {
	cases := map[string]string{
		"missing slug":   "restaurants:\n  - id: r1\n",
		"duplicate slug": "restaurants:\n  - {id: r1, slug: a}\n  - {id: r2, slug: a}\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFile([]byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	file, err := ParseFile([]byte("restaurants:\n  - {id: r1, slug: a, hours: [{weekday: funday, open: '10:00', close: '11:00'}]}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := file.Models(); err == nil {
		t.Fatalf("expected weekday error")
	}
}

func TestStaticResolve(t *testing.T) {
	file, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	restaurants, _ := file.Models()
	dir := NewStatic(restaurants...)
	ctx := context.Background()

	bySlug, err := dir.Resolve(ctx, "demo")
	if err != nil || bySlug.RestaurantID != "r-demo" {
		t.Fatalf("resolve slug: %+v %v", bySlug, err)
	}
	byCode, err := dir.Resolve(ctx, "DEMO42")
	if err != nil || byCode.RestaurantID != "r-demo" {
		t.Fatalf("resolve code: %+v %v", byCode, err)
	}
	if _, err := dir.Resolve(ctx, "nope"); !errors.Is(err, store.ErrRestaurantNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	all, _ := dir.List(ctx)
	if len(all) != 2 || all[0].RestaurantID != "r-closed" || all[1].RestaurantID != "r-demo" {
		t.Fatalf("unexpected restaurant list: %+v", all)
	}
}
