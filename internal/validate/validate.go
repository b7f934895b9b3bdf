// Package validate holds the error types shared by the clubdesk services and
// small field checks used when accepting input.
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/supperclub/clubdesk/internal/sms"
)

// ErrConflict marks an operation that is not allowed in the record's current
// state, such as editing a sent campaign.
var ErrConflict = errors.New("conflict")

// Error is a rejected input. Field names the offending field when there is one.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Errorf returns an *Error for field.
func Errorf(field, format string, args ...any) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Conflictf returns an error wrapping ErrConflict.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is, or wraps, an *Error.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// Required returns an error for the first empty value, checked in order of
// the field/value pairs.
func Required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return Errorf(pairs[i], "is required")
		}
	}
	return nil
}

// Email returns the normalised address or an error naming field.
func Email(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Errorf(field, "is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", Errorf(field, "%q is not a valid email address", s)
	}
	return strings.ToLower(s), nil
}

// Phone returns the E.164 form of s or an error naming field.
func Phone(field, s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", Errorf(field, "is required")
	}
	p := sms.NormalizePhone(s)
	if p == "" {
		return "", Errorf(field, "%q is not a valid phone number", s)
	}
	return p, nil
}
