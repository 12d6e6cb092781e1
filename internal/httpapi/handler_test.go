package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/queue"
	"qms/waitlist-service/internal/store"
	"qms/waitlist-service/internal/store/memory"
	"qms/waitlist-service/internal/tenant"
)

const staffSession = "sess-bistro"

type testServer struct {
	handler http.Handler
	store   *memory.Store
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	entries := memory.New()
	entries.AddSession(store.Session{SessionID: staffSession, UserID: "u1", TenantID: "r-bistro", Role: "staff", ExpiresAt: time.Now().Add(time.Hour)})
	directory := tenant.NewStatic(models.Restaurant{
		RestaurantID:            "r-bistro",
		Slug:                    "bistro",
		LinkCode:                "BST123",
		Name:                    "Bistro",
		IsActive:                true,
		QueueActive:             true,
		MaxPartySize:            6,
		AverageTableTimeMinutes: 10,
		CalledTimeoutMinutes:    5,
	})
	service := queue.NewService(entries, directory, queue.WithLogger(logger))
	handler := NewHandler(service, Options{Logger: logger})
	return testServer{
		handler: LoggingMiddleware(logger, AuthMiddleware(entries, handler.Routes())),
		store:   entries,
	}
}

func (s testServer) do(t *testing.T, method, path string, body any, session string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func join(t *testing.T, s testServer, name, phone string) models.QueueEntry {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/queue/join/bistro", map[string]any{
		"customerName": name, "phone": phone, "email": "guest@example.com", "partySize": 2,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("join %s: expected 201, got %d: %s", name, rec.Code, rec.Body.String())
	}
	var entry models.QueueEntry
	if err := json.NewDecoder(rec.Body).Decode(&entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return entry
}

func TestJoinAndPublicStatus(t *testing.T) {
	s := newTestServer(t)
	entry := join(t, s, "Ana", "081100000001")
	if entry.Status != models.StatusWaiting || entry.Position != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	rec := s.do(t, http.MethodGet, "/queue/public/BST123?push=off", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("public status: %d", rec.Code)
	}
	if rec.Header().Get("X-Poll-Interval") != "5" {
		t.Fatalf("expected fallback poll interval, got %q", rec.Header().Get("X-Poll-Interval"))
	}
	var aggregate queue.PublicAggregate
	_ = json.NewDecoder(rec.Body).Decode(&aggregate)
	if aggregate.WaitingCount != 1 || aggregate.RestaurantName != "Bistro" {
		t.Fatalf("unexpected aggregate %+v", aggregate)
	}

	rec = s.do(t, http.MethodGet, "/queue/public/bistro/ticket/"+entry.EntryID, nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Poll-Interval") != "30" {
		t.Fatalf("ticket status: %d poll=%q", rec.Code, rec.Header().Get("X-Poll-Interval"))
	}
	var ticket queue.TicketStatus
	_ = json.NewDecoder(rec.Body).Decode(&ticket)
	if ticket.Position != 1 || ticket.EstimatedWaitMinutes != 10 || ticket.TicketID != entry.EntryID {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestJoinErrors(t *testing.T) {
	s := newTestServer(t)
	join(t, s, "Ana", "081100000001")

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown restaurant", "/queue/join/nowhere", map[string]any{"customerName": "B", "phone": "081100000002", "email": "b@example.com", "partySize": 2}, http.StatusNotFound, "restaurant_not_found"},
		{"duplicate phone", "/queue/join/bistro", map[string]any{"customerName": "B", "phone": "0811 0000 0001", "email": "b@example.com", "partySize": 2}, http.StatusBadRequest, "duplicate_phone"},
		{"party size", "/queue/join/bistro", map[string]any{"customerName": "B", "phone": "081100000002", "email": "b@example.com", "partySize": 7}, http.StatusBadRequest, "invalid_party_size"},
		{"unknown field", "/queue/join/bistro", map[string]any{"customerName": "B", "table": 4}, http.StatusBadRequest, "invalid_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tc.path, tc.body, "")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if resp := decodeError(t, rec); resp.Error.Code != tc.code || resp.RequestID == "" {
				t.Fatalf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestAdminRequiresSession(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/queue", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/queue", nil, "bogus"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown session, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", rec.Code)
	}
}

func TestAdminLifecycle(t *testing.T) {
	s := newTestServer(t)
	ana := join(t, s, "Ana", "081100000001")

	rec := s.do(t, http.MethodPost, "/queue", map[string]any{"customerName": "Walk In", "phone": "081100000002", "partySize": 3}, staffSession)
	if rec.Code != http.StatusCreated {
		t.Fatalf("manual add: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/queue/"+ana.EntryID+"/notify", nil, staffSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("notify: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/queue/"+ana.EntryID+"/seat", nil, staffSession)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action should 404, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, "/queue/"+ana.EntryID+"/status", map[string]string{"status": "DONE"}, staffSession)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error.Code != "invalid_transition" {
		t.Fatalf("NOTIFIED -> DONE should be rejected, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPatch, "/queue/"+ana.EntryID+"/status", map[string]string{"status": "called"}, staffSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("call: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/queue", nil, staffSession)
	var entries []models.QueueEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil || len(entries) != 2 {
		t.Fatalf("list: %v %+v", err, entries)
	}
	if entries[0].EntryID != ana.EntryID || entries[0].Status != models.StatusCalled {
		t.Fatalf("called entry should lead, got %+v", entries[0])
	}

	rec = s.do(t, http.MethodGet, "/queue/entries/"+ana.EntryID+"/events", nil, staffSession)
	var history queue.EntryHistory
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil || !history.Intact || len(history.Events) != 3 {
		t.Fatalf("history: %v %+v", err, history)
	}

	rec = s.do(t, http.MethodPost, "/queue/sweep", nil, staffSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: %d", rec.Code)
	}
}

func TestReorderEndpoint(t *testing.T) {
	s := newTestServer(t)
	join(t, s, "Ana", "081100000001")
	budi := join(t, s, "Budi", "081100000002")

	rec := s.do(t, http.MethodPost, "/queue/reorder", map[string]any{"items": []map[string]any{{"id": budi.EntryID, "position": 1}}}, staffSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", rec.Code, rec.Body.String())
	}
	var entries []models.QueueEntry
	_ = json.NewDecoder(rec.Body).Decode(&entries)
	if len(entries) != 2 || entries[0].EntryID != budi.EntryID || !entries[0].ManualOrder {
		t.Fatalf("unexpected order %+v", entries)
	}

	rec = s.do(t, http.MethodPost, "/queue/reorder", map[string]any{"items": []map[string]any{}}, staffSession)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty reorder should be rejected, got %d", rec.Code)
	}
}

func TestMapError(t *testing.T) {
	status, code, _ := mapError(errors.New("boom"))
	if status != http.StatusInternalServerError || code != "internal_error" {
		t.Fatalf("unexpected mapping %d %s", status, code)
	}
	status, code, msg := mapError(&queue.Error{Kind: queue.KindForbidden, Code: "queue_inactive", Message: "Queue is not accepting new entries"})
	if status != http.StatusForbidden || code != "queue_inactive" || msg == "" {
		t.Fatalf("unexpected mapping %d %s %s", status, code, msg)
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2, TenantPerMinute: 600, TenantBurst: 100})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/queue/public/bistro", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/queue/public/bistro", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client should not be limited, got %d", rec.Code)
	}
}

func TestTenantKey(t *testing.T) {
	cases := map[string]string{
		"/queue/join/Bistro":            "restaurant:bistro",
		"/queue/public/bistro/ticket/x": "restaurant:bistro",
		"/healthz":                      "",
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if got := tenantKey(req); got != want {
			t.Errorf("tenantKey(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestCalledEntryBecomesNoShowAfterTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	entries := memory.New()
	entries.AddSession(store.Session{SessionID: "sess-demo", UserID: "u1", TenantID: "r-demo", Role: "staff", ExpiresAt: time.Now().Add(time.Hour)})
	directory := tenant.NewStatic(models.Restaurant{
		RestaurantID:            "r-demo",
		Slug:                    "demo",
		LinkCode:                "DEMO42",
		Name:                    "Demo",
		IsActive:                true,
		QueueActive:             true,
		MaxPartySize:            10,
		AverageTableTimeMinutes: 15,
		CalledTimeoutMinutes:    5,
	})
	service := queue.NewService(entries, directory, queue.WithLogger(logger), queue.WithClock(func() time.Time { return now }))
	s := testServer{
		handler: LoggingMiddleware(logger, AuthMiddleware(entries, NewHandler(service, Options{Logger: logger}).Routes())),
		store:   entries,
	}

	rec := s.do(t, http.MethodPost, "/queue/join/demo", map[string]any{
		"customerName": "Rina", "phone": "081200000001", "email": "a@b.com", "partySize": 12,
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized party: expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec).Error.Message; msg != "Party size exceeds limit of 10" {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = s.do(t, http.MethodPost, "/queue/join/demo", map[string]any{
		"customerName": "Rina", "phone": "081200000001", "email": "a@b.com", "partySize": 2,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("join: %d %s", rec.Code, rec.Body.String())
	}
	var entry models.QueueEntry
	if err := json.NewDecoder(rec.Body).Decode(&entry); err != nil || entry.EntryID == "" {
		t.Fatalf("decode entry: %v %+v", err, entry)
	}

	rec = s.do(t, http.MethodGet, "/queue/public/demo/ticket/"+entry.EntryID, nil, "")
	var ticket queue.TicketStatus
	if err := json.NewDecoder(rec.Body).Decode(&ticket); err != nil || ticket.Position < 1 || ticket.Status != models.StatusWaiting {
		t.Fatalf("ticket: %v %+v", err, ticket)
	}

	rec = s.do(t, http.MethodPatch, "/queue/"+entry.EntryID+"/status", map[string]string{"status": "CALLED"}, "sess-demo")
	if rec.Code != http.StatusOK {
		t.Fatalf("call: %d %s", rec.Code, rec.Body.String())
	}

	now = now.Add(4 * time.Minute)
	rec = s.do(t, http.MethodPost, "/queue/sweep", nil, "sess-demo")
	var result map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil || result["marked"] != 0 {
		t.Fatalf("sweep before timeout: %v %v", err, result)
	}

	now = now.Add(2 * time.Minute)
	rec = s.do(t, http.MethodPost, "/queue/sweep", nil, "sess-demo")
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil || result["marked"] != 1 {
		t.Fatalf("sweep after timeout: %v %v", err, result)
	}

	rec = s.do(t, http.MethodGet, "/queue/public/demo/ticket/"+entry.EntryID, nil, "")
	ticket = queue.TicketStatus{}
	if err := json.NewDecoder(rec.Body).Decode(&ticket); err != nil || ticket.Status != models.StatusNoShow || ticket.Position != 0 {
		t.Fatalf("ticket after sweep: %v %+v", err, ticket)
	}
}
