// Package render expands {{placeholder}} expressions in SMS bodies, for
// example "Hi {{member.first_name}}, see you at {{reservation.time}}".
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/store"
)

// Vars maps placeholder names to values.
type Vars map[string]string

// Known lists every placeholder a body may use.
var Known = []string{
	"member.first_name", "member.last_name", "member.full_name", "member.phone", "member.email",
	"reservation.date", "reservation.time", "reservation.party_size", "reservation.name",
}

// ForMember returns the member placeholders.
func ForMember(m store.Member) Vars {
	return Vars{
		"member.first_name": m.FirstName,
		"member.last_name":  m.LastName,
		"member.full_name":  m.FullName(),
		"member.phone":      m.Phone,
		"member.email":      m.Email,
	}
}

// ForReservation returns the reservation placeholders, with times shown in loc.
// When the reservation has no member, member.first_name falls back to the
// first word of the booking name.
func ForReservation(r store.Reservation, loc *time.Location) Vars {
	start := r.Start.In(loc)
	first, last, _ := strings.Cut(r.Name, " ")
	return Vars{
		"reservation.date":       start.Format("Mon Jan 2"),
		"reservation.time":       start.Format("3:04 PM"),
		"reservation.party_size": strconv.Itoa(r.PartySize),
		"reservation.name":       r.Name,
		"member.first_name":      first,
		"member.last_name":       last,
		"member.full_name":       r.Name,
		"member.phone":           r.Phone,
		"member.email":           r.Email,
	}
}

// Merge returns a copy of v overlaid with each of others in order.
func (v Vars) Merge(others ...Vars) Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	for _, o := range others {
		for k, val := range o {
			out[k] = val
		}
	}
	return out
}

// Expand replaces every {{expr}} in s with its value from vars. Whitespace
// inside the braces is ignored. Unknown expressions are an error.
func Expand(s string, vars Vars) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression at position %d", len(s)-len(rest)+start)
		}
		end += start

		expr := strings.TrimSpace(rest[start+2 : end])
		val, ok := vars[expr]
		if !ok {
			return "", fmt.Errorf("unresolved template expression: %q", expr)
		}
		b.WriteString(rest[:start])
		b.WriteString(val)
		rest = rest[end+2:]
	}
}

// Validate checks that every placeholder in s is known.
func Validate(s string) error {
	vars := make(Vars, len(Known))
	for _, k := range Known {
		vars[k] = ""
	}
	_, err := Expand(s, vars)
	return err
}
