package queue

import (
	"net/mail"
	"strings"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 16
	maxNameLength  = 120
)

// NormalizePhone strips spaces, dashes, dots and parentheses and keeps an
// optional leading '+'. It returns false when what remains is not a phone
// number.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", false
	}
	return b.String(), true
}

// ValidEmail accepts a bare address, without display name.
func ValidEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return false
	}
	at := strings.LastIndex(raw, "@")
	return at > 0 && strings.Contains(raw[at+1:], ".")
}

func validateName(raw string) (string, *Error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", badRequest("invalid_name", "Customer name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", badRequest("invalid_name", "Customer name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

func validatePartySize(size, max int) *Error {
	if size < 1 {
		return badRequest("invalid_party_size", "Party size must be at least 1")
	}
	if size > max {
		return badRequest("invalid_party_size", "Party size exceeds limit of %d", max)
	}
	return nil
}

func validateEmail(raw string, required bool) (string, *Error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		if required {
			return "", badRequest("invalid_email", "Email is required")
		}
		return "", nil
	}
	if !ValidEmail(email) {
		return "", badRequest("invalid_email", "Invalid email address")
	}
	return email, nil
}
