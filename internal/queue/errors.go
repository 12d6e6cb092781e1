package queue

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is a caller-facing failure. Message is safe to show verbatim.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func badRequest(code, format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func notFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// IsKind reports whether err is a queue Error of kind.
func IsKind(err error, kind Kind) bool {
	var qerr *Error
	return errors.As(err, &qerr) && qerr.Kind == kind
}

var (
	errRestaurantNotFound = notFound("restaurant_not_found", "Restaurant not found")
	errEntryNotFound      = notFound("entry_not_found", "Queue entry not found")
	errTicketNotFound     = notFound("ticket_not_found", "Ticket not found")
	errRestaurantInactive = forbidden("restaurant_inactive", "Restaurant is not active")
	errQueueInactive      = forbidden("queue_inactive", "Queue is not accepting new entries")
	errRestaurantClosed   = forbidden("restaurant_closed", "Restaurant is closed")
	errDuplicatePhone     = badRequest("duplicate_phone", "An active queue entry already exists for this phone number")
)
