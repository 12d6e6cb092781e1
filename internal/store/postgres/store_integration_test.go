package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
	"qms/waitlist-service/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCreateEntryRejectsDuplicateActivePhone(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	restaurantID := uuid.NewString()
	first := createEntry(t, ctx, st, restaurantID, "+6281111111")
	if first.Position != 1 || first.Status != models.StatusWaiting {
		t.Fatalf("unexpected first entry: %+v", first)
	}

	_, err := st.CreateEntry(ctx, store.CreateEntryInput{
		EntryID:      uuid.NewString(),
		RestaurantID: restaurantID,
		CustomerName: "Dup",
		Phone:        "+6281111111",
		PartySize:    2,
	})
	if !errors.Is(err, store.ErrDuplicatePhone) {
		t.Fatalf("expected duplicate phone, got %v", err)
	}

	if _, err := st.Transition(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: first.EntryID, Action: store.ActionCancel}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	createEntry(t, ctx, st, restaurantID, "+6281111111")
}

func TestClaimNotificationConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	restaurantID := uuid.NewString()
	entry := createEntry(t, ctx, st, restaurantID, "+6282222222")
	stamp := time.Now().UTC().Truncate(time.Microsecond)

	var wg sync.WaitGroup
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimNotification(ctx, store.ClaimInput{
				RestaurantID: restaurantID,
				EntryID:      entry.EntryID,
				ExpectStatus: models.StatusWaiting,
				NextStatus:   models.StatusNotified,
				NotifiedAt:   &stamp,
				EventType:    "notification.ahead",
			})
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", won)
	}
}

func TestMarkNoShowsAndEventChain(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	restaurantID := uuid.NewString()
	entry := createEntry(t, ctx, st, restaurantID, "+6283333333")
	calledAt := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Microsecond)
	if _, err := st.Transition(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: entry.EntryID, Action: store.ActionCall, OccurredAt: calledAt}); err != nil {
		t.Fatalf("call: %v", err)
	}

	marked, err := st.MarkNoShows(ctx, restaurantID, time.Now().UTC().Add(-5*time.Minute), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("mark no-shows: %v", err)
	}
	if len(marked) != 1 || marked[0].Status != models.StatusNoShow || marked[0].Position != 0 {
		t.Fatalf("unexpected no-shows: %+v", marked)
	}

	events, err := st.ListEntryEvents(ctx, restaurantID, entry.EntryID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if seq := store.VerifyEntryEvents(events); seq != 0 {
		t.Fatalf("event chain broken at %d", seq)
	}
	rebuilt, err := store.RehydrateEntry(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rebuilt.Status != models.StatusNoShow {
		t.Fatalf("expected rehydrated NO_SHOW, got %s", rebuilt.Status)
	}
}

func TestAverageWait(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	restaurantID := uuid.NewString()
	if _, ok, err := st.AverageWait(ctx, restaurantID, time.Now().Add(-time.Hour)); err != nil || ok {
		t.Fatalf("expected no history, ok=%v err=%v", ok, err)
	}

	entry := createEntry(t, ctx, st, restaurantID, "+6284444444")
	if _, err := st.Transition(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: entry.EntryID, Action: store.ActionCall, OccurredAt: entry.JoinedAt.Add(12 * time.Minute)}); err != nil {
		t.Fatalf("call: %v", err)
	}
	avg, ok, err := st.AverageWait(ctx, restaurantID, entry.JoinedAt.Add(-time.Hour))
	if err != nil || !ok {
		t.Fatalf("average wait: ok=%v err=%v", ok, err)
	}
	if avg < 11*time.Minute || avg > 13*time.Minute {
		t.Fatalf("unexpected average %s", avg)
	}
}

func createEntry(t *testing.T, ctx context.Context, st *Store, restaurantID, phone string) models.QueueEntry {
	t.Helper()
	entry, err := st.CreateEntry(ctx, store.CreateEntryInput{
		EntryID:      uuid.NewString(),
		RestaurantID: restaurantID,
		CustomerName: "Guest",
		Phone:        phone,
		PartySize:    2,
		JoinedAt:     time.Now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return entry
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execAdmin(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	config.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execAdmin(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execAdmin(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}
