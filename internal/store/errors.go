package store

import "errors"

var (
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrInvalidState       = errors.New("invalid entry state")
	ErrDuplicatePhone     = errors.New("active entry exists for phone")
	ErrSessionNotFound    = errors.New("session not found")
)
