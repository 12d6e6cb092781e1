package tenant

import (
	"fmt"
	"os"
	"strings"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"

	"gopkg.in/yaml.v3"
)

const defaultSessionTTL = 30 * 24 * time.Hour

// File is the tenants seed document:
//
//	restaurants:
//	  - id: r-demo
//	    slug: demo
//	    link_code: DEMO42
//	    name: Demo Bistro
//	    max_party_size: 10
//	    hours:
//	      - {weekday: monday, open: "11:00", close: "22:00"}
//	sessions:
//	  - {id: staff-demo, user_id: u-1, restaurant_id: r-demo}
type File struct {
	Restaurants []RestaurantRecord `yaml:"restaurants"`
	Sessions    []SessionRecord    `yaml:"sessions"`
}

type RestaurantRecord struct {
	ID                      string        `yaml:"id"`
	Slug                    string        `yaml:"slug"`
	LinkCode                string        `yaml:"link_code"`
	Name                    string        `yaml:"name"`
	Active                  *bool         `yaml:"active"`
	QueueActive             *bool         `yaml:"queue_active"`
	MaxPartySize            int           `yaml:"max_party_size"`
	AverageTableTimeMinutes int           `yaml:"average_table_time_minutes"`
	CalledTimeoutMinutes    int           `yaml:"called_timeout_minutes"`
	Timezone                string        `yaml:"timezone"`
	Hours                   []HoursRecord `yaml:"hours"`
}

type HoursRecord struct {
	Weekday string `yaml:"weekday"`
	Open    string `yaml:"open"`
	Close   string `yaml:"close"`
}

type SessionRecord struct {
	ID           string `yaml:"id"`
	UserID       string `yaml:"user_id"`
	RestaurantID string `yaml:"restaurant_id"`
	Role         string `yaml:"role"`
	TTLHours     int    `yaml:"ttl_hours"`
}

func LoadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseFile(raw)
}

func ParseFile(raw []byte) (File, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return File{}, fmt.Errorf("parse tenants file: %w", err)
	}
	seen := make(map[string]bool)
	for _, record := range file.Restaurants {
		if record.ID == "" || record.Slug == "" {
			return File{}, fmt.Errorf("restaurant requires id and slug")
		}
		if seen[record.Slug] {
			return File{}, fmt.Errorf("duplicate slug %q", record.Slug)
		}
		seen[record.Slug] = true
	}
	return file, nil
}

// Models converts the records, filling defaults for omitted settings.
func (f File) Models() ([]models.Restaurant, error) {
	restaurants := make([]models.Restaurant, 0, len(f.Restaurants))
	for _, record := range f.Restaurants {
		restaurant, err := record.toModel()
		if err != nil {
			return nil, err
		}
		restaurants = append(restaurants, restaurant)
	}
	return restaurants, nil
}

func (f File) StoreSessions(now time.Time) []store.Session {
	sessions := make([]store.Session, 0, len(f.Sessions))
	for _, record := range f.Sessions {
		ttl := defaultSessionTTL
		if record.TTLHours > 0 {
			ttl = time.Duration(record.TTLHours) * time.Hour
		}
		role := record.Role
		if role == "" {
			role = "staff"
		}
		sessions = append(sessions, store.Session{
			SessionID: record.ID,
			UserID:    record.UserID,
			TenantID:  record.RestaurantID,
			Role:      role,
			ExpiresAt: now.Add(ttl),
		})
	}
	return sessions
}

func (r RestaurantRecord) toModel() (models.Restaurant, error) {
	restaurant := models.Restaurant{
		RestaurantID:            r.ID,
		Slug:                    r.Slug,
		LinkCode:                r.LinkCode,
		Name:                    r.Name,
		IsActive:                boolOr(r.Active, true),
		QueueActive:             boolOr(r.QueueActive, true),
		MaxPartySize:            intOr(r.MaxPartySize, 10),
		AverageTableTimeMinutes: intOr(r.AverageTableTimeMinutes, 15),
		CalledTimeoutMinutes:    intOr(r.CalledTimeoutMinutes, 5),
		Timezone:                r.Timezone,
	}
	if restaurant.Name == "" {
		restaurant.Name = r.Slug
	}
	for _, hours := range r.Hours {
		weekday, err := ParseWeekday(hours.Weekday)
		if err != nil {
			return models.Restaurant{}, fmt.Errorf("restaurant %s: %w", r.ID, err)
		}
		if _, err := ParseClock(hours.Open); err != nil {
			return models.Restaurant{}, fmt.Errorf("restaurant %s: %w", r.ID, err)
		}
		if _, err := ParseClock(hours.Close); err != nil {
			return models.Restaurant{}, fmt.Errorf("restaurant %s: %w", r.ID, err)
		}
		restaurant.Hours = append(restaurant.Hours, models.OperatingHours{Weekday: weekday, Open: hours.Open, Close: hours.Close})
	}
	return restaurant, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func ParseWeekday(raw string) (time.Weekday, error) {
	weekday, ok := weekdays[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", raw)
	}
	return weekday, nil
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func intOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
