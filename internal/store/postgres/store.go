package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `entry_id, restaurant_id, customer_name, phone, email, party_size, customer_id, status, position, manual_order,
	joined_at, notified_at, called_at, no_show_at, completed_at, cancelled_at`

const activeFilter = `status IN ('WAITING','NOTIFIED','CALLED')`

const uniqueViolation = "23505"

var _ store.EntryStore = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockRestaurant(ctx, tx, input.RestaurantID); err != nil {
		return models.QueueEntry{}, err
	}

	var waiting int
	if err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries WHERE restaurant_id = $1 AND status = 'WAITING'
	`, input.RestaurantID).Scan(&waiting); err != nil {
		return models.QueueEntry{}, err
	}

	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, restaurant_id, customer_name, phone, email, party_size, customer_id, status, position, joined_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+entryColumns,
		input.EntryID, input.RestaurantID, input.CustomerName, input.Phone, input.Email, input.PartySize,
		nullIfEmpty(input.CustomerID), models.StatusWaiting, waiting+1, joinedAt)
	entry, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = store.ErrDuplicatePhone
		}
		return models.QueueEntry{}, err
	}

	if err = insertEntryEvent(ctx, tx, entry, store.EventEntryCreated, joinedAt); err != nil {
		return models.QueueEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1 AND restaurant_id = $2
	`, entryID, restaurantID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE restaurant_id = $1
		ORDER BY
			(`+activeFilter+`) DESC,
			CASE WHEN `+activeFilter+` THEN position END ASC,
			CASE WHEN `+activeFilter+` THEN joined_at END ASC,
			joined_at DESC
	`, restaurantID)
}

func (s *Store) ListActive(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE restaurant_id = $1 AND `+activeFilter+`
		ORDER BY position ASC, joined_at ASC
	`, restaurantID)
}

func (s *Store) HasActivePhone(ctx context.Context, restaurantID, phone string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE restaurant_id = $1 AND phone = $2 AND `+activeFilter+`
		)
	`, restaurantID, phone).Scan(&exists)
	return exists, err
}

func (s *Store) ApplyPositions(ctx context.Context, restaurantID string, updates []store.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	positions := make([]int32, len(updates))
	for i, update := range updates {
		ids[i] = update.EntryID
		positions[i] = int32(update.Position)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_entries AS q
		SET position = u.position
		FROM unnest($2::text[], $3::int[]) AS u(entry_id, position)
		WHERE q.entry_id = u.entry_id AND q.restaurant_id = $1 AND q.`+activeFilter+`
	`, restaurantID, ids, positions)
	return err
}

func (s *Store) Reorder(ctx context.Context, restaurantID string, items []store.ReorderItem, at time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.EntryID
	}
	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE restaurant_id = $1 AND entry_id = ANY($2)
		FOR UPDATE
	`, restaurantID, ids)
	if err != nil {
		return err
	}
	locked, err := collectEntries(rows)
	if err != nil {
		return err
	}
	byID := make(map[string]models.QueueEntry, len(locked))
	for _, entry := range locked {
		byID[entry.EntryID] = entry
	}
	for _, item := range items {
		entry, ok := byID[item.EntryID]
		if !ok {
			err = store.ErrEntryNotFound
			return err
		}
		if !entry.Status.Active() {
			err = store.ErrInvalidState
			return err
		}
	}

	for _, item := range items {
		if _, err = tx.Exec(ctx, `
			UPDATE queue_entries SET position = $1, manual_order = TRUE
			WHERE entry_id = $2 AND restaurant_id = $3
		`, item.Position, item.EntryID, restaurantID); err != nil {
			return err
		}
		entry := byID[item.EntryID]
		entry.Position = item.Position
		entry.ManualOrder = true
		if err = insertEntryEvent(ctx, tx, entry, "entry.reordered", at); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	column := store.TimestampField(input.Action)
	if column == "" {
		return models.QueueEntry{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	entry, err := lockEntry(ctx, tx, input.RestaurantID, input.EntryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !store.ValidTransition(input.Action, entry.Status) {
		err = store.ErrInvalidState
		return models.QueueEntry{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	store.StampTransition(&entry, input.Action, occurredAt)

	if _, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE queue_entries SET status = $1, position = $2, %s = $3
		WHERE entry_id = $4 AND restaurant_id = $5
	`, column), entry.Status, entry.Position, occurredAt, entry.EntryID, entry.RestaurantID); err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertEntryEvent(ctx, tx, entry, store.EventType(input.Action), occurredAt); err != nil {
		return models.QueueEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ClaimNotification(ctx context.Context, input store.ClaimInput) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = COALESCE(NULLIF($1, ''), status), notified_at = $2
		WHERE entry_id = $3 AND restaurant_id = $4 AND status = $5 AND notified_at IS NOT DISTINCT FROM $6
		RETURNING `+entryColumns,
		string(input.NextStatus), input.NotifiedAt, input.EntryID, input.RestaurantID, input.ExpectStatus, input.ExpectNotifiedAt)
	entry, err := scanEntry(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
		var exists bool
		if err = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM queue_entries WHERE entry_id = $1 AND restaurant_id = $2)
		`, input.EntryID, input.RestaurantID).Scan(&exists); err != nil {
			return false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return false, err
		}
		if !exists {
			return false, store.ErrEntryNotFound
		}
		return false, nil
	}

	if input.EventType != "" {
		eventAt := time.Now().UTC()
		if input.NotifiedAt != nil {
			eventAt = *input.NotifiedAt
		}
		if err = insertEntryEvent(ctx, tx, entry, input.EventType, eventAt); err != nil {
			return false, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkNoShows(ctx context.Context, restaurantID string, cutoff, at time.Time, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE restaurant_id = $1 AND status = 'CALLED' AND called_at < $2
		ORDER BY called_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, restaurantID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	expired, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	for i := range expired {
		store.StampTransition(&expired[i], store.ActionNoShow, at)
		if _, err = tx.Exec(ctx, `
			UPDATE queue_entries SET status = $1, position = 0, no_show_at = $2
			WHERE entry_id = $3
		`, models.StatusNoShow, at, expired[i].EntryID); err != nil {
			return nil, err
		}
		if err = insertEntryEvent(ctx, tx, expired[i], store.EventType(store.ActionNoShow), at); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *Store) AverageWait(ctx context.Context, restaurantID string, since time.Time) (time.Duration, bool, error) {
	var seconds sql.NullFloat64
	err := s.pool.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (called_at - joined_at)))::float8
		FROM queue_entries
		WHERE restaurant_id = $1 AND called_at IS NOT NULL AND called_at >= $2
	`, restaurantID, since).Scan(&seconds)
	if err != nil {
		return 0, false, err
	}
	if !seconds.Valid {
		return 0, false, nil
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), true, nil
}

func (s *Store) ListEntryEvents(ctx context.Context, restaurantID, entryID string) ([]store.EntryEvent, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM queue_entries WHERE entry_id = $1 AND restaurant_id = $2)
	`, entryID, restaurantID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrEntryNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, entry_seq, type, payload::text, created_at, prev_hash, hash
		FROM queue_entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		var payload string
		if err := rows.Scan(&event.EntryID, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, tenant_id, role, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.TenantID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...interface{}) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// lockRestaurant serializes joins per restaurant so provisional positions
// are not handed out twice.
func lockRestaurant(ctx context.Context, tx pgx.Tx, restaurantID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "restaurant:"+restaurantID)
	return err
}

func lockEntry(ctx context.Context, tx pgx.Tx, restaurantID, entryID string) (models.QueueEntry, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1 AND restaurant_id = $2
		FOR UPDATE
	`, entryID, restaurantID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func insertEntryEvent(ctx context.Context, tx pgx.Tx, entry models.QueueEntry, eventType string, at time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.EntryID); err != nil {
		return err
	}

	var prev *store.EntryEvent
	var last store.EntryEvent
	row := tx.QueryRow(ctx, `
		SELECT entry_seq, hash
		FROM queue_entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq DESC
		LIMIT 1
	`, entry.EntryID)
	if err := row.Scan(&last.Seq, &last.Hash); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	} else {
		prev = &last
	}

	// timestamptz keeps microseconds; hash what will be read back.
	createdAt := at.UTC().Truncate(time.Microsecond)
	event := store.NextEntryEvent(prev, entry.EntryID, eventType, store.EventPayload(entry), createdAt)

	_, err := tx.Exec(ctx, `
		INSERT INTO queue_entry_events (entry_id, entry_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4::json, $5, $6, $7)
	`, event.EntryID, event.Seq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func collectEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var customerIDNull sql.NullString
	var notifiedAtNull, calledAtNull, noShowAtNull, completedAtNull, cancelledAtNull sql.NullTime
	if err := row.Scan(
		&entry.EntryID, &entry.RestaurantID, &entry.CustomerName, &entry.Phone, &entry.Email, &entry.PartySize,
		&customerIDNull, &entry.Status, &entry.Position, &entry.ManualOrder,
		&entry.JoinedAt, &notifiedAtNull, &calledAtNull, &noShowAtNull, &completedAtNull, &cancelledAtNull,
	); err != nil {
		return models.QueueEntry{}, err
	}
	entry.JoinedAt = entry.JoinedAt.UTC()
	entry.CustomerID = nullStringPtr(customerIDNull)
	entry.NotifiedAt = nullTimePtr(notifiedAtNull)
	entry.CalledAt = nullTimePtr(calledAtNull)
	entry.NoShowAt = nullTimePtr(noShowAtNull)
	entry.CompletedAt = nullTimePtr(completedAtNull)
	entry.CancelledAt = nullTimePtr(cancelledAtNull)
	return entry, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
