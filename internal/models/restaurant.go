package models

import "time"

// Restaurant is the tenant configuration the queue reads. It is owned by the
// surrounding restaurant-settings system.
type Restaurant struct {
	RestaurantID            string           `json:"id"`
	Slug                    string           `json:"slug"`
	LinkCode                string           `json:"linkCode,omitempty"`
	Name                    string           `json:"name"`
	IsActive                bool             `json:"isActive"`
	QueueActive             bool             `json:"queueActive"`
	MaxPartySize            int              `json:"maxPartySize"`
	AverageTableTimeMinutes int              `json:"averageTableTimeMinutes"`
	CalledTimeoutMinutes    int              `json:"calledTimeoutMinutes"`
	Timezone                string           `json:"timezone,omitempty"`
	Hours                   []OperatingHours `json:"hours,omitempty"`
}

// OperatingHours is one opening window in the restaurant's local time.
// Close may be earlier than Open for windows that run past midnight.
type OperatingHours struct {
	Weekday time.Weekday `json:"weekday"`
	Open    string       `json:"open"`
	Close   string       `json:"close"`
}

func (r Restaurant) CalledTimeout() time.Duration {
	return time.Duration(r.CalledTimeoutMinutes) * time.Minute
}
