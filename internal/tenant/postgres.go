package tenant

import (
	"context"
	"errors"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const restaurantColumns = `restaurant_id, slug, COALESCE(link_code, ''), name, is_active, queue_active,
	max_party_size, average_table_time_minutes, called_timeout_minutes, timezone`

// Postgres reads restaurants from the restaurants and restaurant_hours tables.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Directory = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Resolve(ctx context.Context, slugOrCode string) (models.Restaurant, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+restaurantColumns+`
		FROM restaurants
		WHERE slug = $1 OR link_code = $1
		ORDER BY (slug = $1) DESC
		LIMIT 1
	`, slugOrCode)
	return p.load(ctx, row)
}

func (p *Postgres) Get(ctx context.Context, restaurantID string) (models.Restaurant, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+restaurantColumns+`
		FROM restaurants
		WHERE restaurant_id = $1
	`, restaurantID)
	return p.load(ctx, row)
}

func (p *Postgres) List(ctx context.Context) ([]models.Restaurant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+restaurantColumns+`
		FROM restaurants
		ORDER BY restaurant_id
	`)
	if err != nil {
		return nil, err
	}
	var restaurants []models.Restaurant
	for rows.Next() {
		restaurant, err := scanRestaurant(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		restaurants = append(restaurants, restaurant)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range restaurants {
		hours, err := p.hours(ctx, restaurants[i].RestaurantID)
		if err != nil {
			return nil, err
		}
		restaurants[i].Hours = hours
	}
	return restaurants, nil
}

// Seed upserts the tenants file into the database. It backs the migrate
// command's --seed flag for local environments.
func (p *Postgres) Seed(ctx context.Context, file File, now time.Time) error {
	restaurants, err := file.Models()
	if err != nil {
		return err
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, restaurant := range restaurants {
		if _, err = tx.Exec(ctx, `
			INSERT INTO restaurants (
				restaurant_id, slug, link_code, name, is_active, queue_active,
				max_party_size, average_table_time_minutes, called_timeout_minutes, timezone
			) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (restaurant_id) DO UPDATE SET
				slug = EXCLUDED.slug,
				link_code = EXCLUDED.link_code,
				name = EXCLUDED.name,
				is_active = EXCLUDED.is_active,
				queue_active = EXCLUDED.queue_active,
				max_party_size = EXCLUDED.max_party_size,
				average_table_time_minutes = EXCLUDED.average_table_time_minutes,
				called_timeout_minutes = EXCLUDED.called_timeout_minutes,
				timezone = EXCLUDED.timezone
		`, restaurant.RestaurantID, restaurant.Slug, restaurant.LinkCode, restaurant.Name, restaurant.IsActive,
			restaurant.QueueActive, restaurant.MaxPartySize, restaurant.AverageTableTimeMinutes,
			restaurant.CalledTimeoutMinutes, timezoneOrUTC(restaurant.Timezone)); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM restaurant_hours WHERE restaurant_id = $1`, restaurant.RestaurantID); err != nil {
			return err
		}
		for _, hours := range restaurant.Hours {
			if _, err = tx.Exec(ctx, `
				INSERT INTO restaurant_hours (restaurant_id, weekday, open_time, close_time)
				VALUES ($1, $2, $3, $4)
			`, restaurant.RestaurantID, int(hours.Weekday), hours.Open, hours.Close); err != nil {
				return err
			}
		}
	}

	for _, session := range file.StoreSessions(now) {
		if _, err = tx.Exec(ctx, `
			INSERT INTO sessions (session_id, user_id, tenant_id, role, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		`, session.SessionID, session.UserID, session.TenantID, session.Role, session.ExpiresAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) load(ctx context.Context, row pgx.Row) (models.Restaurant, error) {
	restaurant, err := scanRestaurant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Restaurant{}, store.ErrRestaurantNotFound
		}
		return models.Restaurant{}, err
	}
	restaurant.Hours, err = p.hours(ctx, restaurant.RestaurantID)
	if err != nil {
		return models.Restaurant{}, err
	}
	return restaurant, nil
}

func (p *Postgres) hours(ctx context.Context, restaurantID string) ([]models.OperatingHours, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT weekday, open_time, close_time
		FROM restaurant_hours
		WHERE restaurant_id = $1
		ORDER BY weekday, open_time
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []models.OperatingHours
	for rows.Next() {
		var weekday int
		var window models.OperatingHours
		if err := rows.Scan(&weekday, &window.Open, &window.Close); err != nil {
			return nil, err
		}
		window.Weekday = time.Weekday(weekday)
		hours = append(hours, window)
	}
	return hours, rows.Err()
}

func scanRestaurant(row pgx.Row) (models.Restaurant, error) {
	var restaurant models.Restaurant
	err := row.Scan(&restaurant.RestaurantID, &restaurant.Slug, &restaurant.LinkCode, &restaurant.Name,
		&restaurant.IsActive, &restaurant.QueueActive, &restaurant.MaxPartySize,
		&restaurant.AverageTableTimeMinutes, &restaurant.CalledTimeoutMinutes, &restaurant.Timezone)
	return restaurant, err
}

func timezoneOrUTC(name string) string {
	if name == "" {
		return "UTC"
	}
	return name
}
