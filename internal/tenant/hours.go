package tenant

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"qms/waitlist-service/internal/models"
)

// IsOpen reports whether at falls inside one of the restaurant's opening
// windows, evaluated in the restaurant's timezone. A restaurant without hours
// is always open. A window whose close is not after its open runs past
// midnight into the next day.
func IsOpen(restaurant models.Restaurant, at time.Time) bool {
	if len(restaurant.Hours) == 0 {
		return true
	}
	local := at.In(location(restaurant.Timezone))
	minute := local.Hour()*60 + local.Minute()
	today := local.Weekday()
	yesterday := (today + 6) % 7

	for _, window := range restaurant.Hours {
		open, err := ParseClock(window.Open)
		if err != nil {
			continue
		}
		closeAt, err := ParseClock(window.Close)
		if err != nil {
			continue
		}
		if closeAt > open {
			if window.Weekday == today && minute >= open && minute < closeAt {
				return true
			}
			continue
		}
		// overnight
		if window.Weekday == today && minute >= open {
			return true
		}
		if window.Weekday == yesterday && minute < closeAt {
			return true
		}
	}
	return false
}

// ParseClock converts "HH:MM" into minutes after midnight. "24:00" is accepted
// as end of day.
func ParseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	if hour == 24 && minute == 0 {
		return 24 * 60, nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	return hour*60 + minute, nil
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
