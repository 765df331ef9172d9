package voip

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrorUnauthorized  = "unauthorized"
	ErrorInvalidNumber = "invalid_number"
	ErrorNotFound      = "call_not_found"
	ErrorUnavailable   = "backend_unavailable"
	ErrorProtocol      = "protocol_error"
)

// ErrUnauthorized matches every error caused by rejected credentials.
var ErrUnauthorized = &Error{Category: ErrorUnauthorized}

// Error is a categorized VoIP backend failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// Is matches errors of the same category, so errors.Is(err, ErrUnauthorized)
// holds for any unauthorized response.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	return e.Category == other.Category
}

// CategoryFromError returns the category of err, or "" for nil.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ErrorUnavailable
}

func errorFromStatus(status int, detail string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Category: ErrorUnauthorized, Detail: detail}
	case status == http.StatusNotFound:
		return &Error{Category: ErrorNotFound, Detail: detail}
	case status == http.StatusBadRequest:
		return &Error{Category: ErrorInvalidNumber, Detail: detail}
	case status >= 500:
		return &Error{Category: ErrorUnavailable, Detail: detail}
	default:
		return &Error{Category: ErrorProtocol, Detail: detail}
	}
}
