package booking

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// DateLayout is the format of booking dates.
const DateLayout = "2006-01-02"

// Reasons a slot is unavailable.
const (
	ReasonOutsideHours = "outside service hours"
	ReasonTooSoon      = "inside the booking lead time"
	ReasonTooFar       = "beyond the booking window"
	ReasonClosed       = "closed"
	ReasonPrivateEvent = "private event"
	ReasonFull         = "no table available"
)

// Availability is the result of checking one slot.
type Availability struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	PartySize int       `json:"party_size"`
	Available bool      `json:"available"`
	TableID   string    `json:"table_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// floor is the state the availability check reads for a time range.
type floor struct {
	tables       []store.Table
	closures     []store.Event
	private      []store.PrivateEvent
	reservations []store.Reservation
}

func (s *Service) loadFloor(ctx context.Context, from, to time.Time) (*floor, error) {
	tables, err := s.st.Tables.Match(ctx, func(_ string, t store.Table) bool { return t.Active })
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	slices.SortStableFunc(tables, func(a, b store.Table) int {
		if a.Seats != b.Seats {
			return a.Seats - b.Seats
		}
		return strings.Compare(a.Name, b.Name)
	})
	closures, err := s.st.Events.Match(ctx, func(_ string, e store.Event) bool {
		return e.Kind == store.EventKindClosure && overlaps(e.Start, e.End, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	private, err := s.st.PrivateEvents.Match(ctx, func(_ string, p store.PrivateEvent) bool {
		return p.Status == store.PrivateEventConfirmed && overlaps(p.Start, p.End, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("load private events: %w", err)
	}
	reservations, err := s.st.Reservations.Match(ctx, func(_ string, r store.Reservation) bool {
		return r.Live() && overlaps(r.Start, r.End, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	return &floor{tables: tables, closures: closures, private: private, reservations: reservations}, nil
}

// check finds the smallest fitting free table for the slot, ignoring the
// reservation with ID exclude.
func (s *Service) check(f *floor, start time.Time, partySize int, exclude string) Availability {
	end := start.Add(s.cfg.Seating)
	a := Availability{Start: start, End: end, PartySize: partySize}

	local := start.In(s.cfg.Location)
	h, m, _ := local.Clock()
	tod := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if tod < s.cfg.Opens || tod+s.cfg.Seating > s.cfg.Closes {
		a.Reason = ReasonOutsideHours
		return a
	}
	for _, e := range f.closures {
		if overlaps(e.Start, e.End, start, end) {
			a.Reason = ReasonClosed
			return a
		}
	}
	claimed := make(map[string]bool)
	for _, p := range f.private {
		if !overlaps(p.Start, p.End, start, end) {
			continue
		}
		if p.Buyout {
			a.Reason = ReasonPrivateEvent
			return a
		}
		for _, id := range p.TableIDs {
			claimed[id] = true
		}
	}

next:
	for _, t := range f.tables {
		if partySize < t.MinSeats || partySize > t.Seats || claimed[t.ID] {
			continue
		}
		for _, r := range f.reservations {
			if r.TableID == t.ID && r.ID != exclude && overlaps(r.Start, r.End, start, end) {
				continue next
			}
		}
		a.Available = true
		a.TableID = t.ID
		return a
	}
	a.Reason = ReasonFull
	return a
}

// bookable reports why start cannot be booked now, or "" when the time itself is acceptable.
func (s *Service) bookable(start time.Time) string {
	now := s.now()
	if start.Before(now.Add(s.cfg.Lead)) {
		return ReasonTooSoon
	}
	if s.cfg.WindowDays > 0 && start.After(s.dayStart(now).AddDate(0, 0, s.cfg.WindowDays+1)) {
		return ReasonTooFar
	}
	return ""
}

func (s *Service) dayStart(t time.Time) time.Time {
	y, m, d := t.In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

// ParseDate parses a booking date in the service timezone.
func (s *Service) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, s.cfg.Location)
	if err != nil {
		return time.Time{}, validate.Errorf("date", "%q is not a date (want YYYY-MM-DD)", date)
	}
	return day, nil
}

// SlotTimes returns every slot start on day from opening to the last seating.
// Slots are wall-clock times, so a daylight saving change does not shift them.
func (s *Service) SlotTimes(day time.Time) []time.Time {
	y, m, d := day.In(s.cfg.Location).Date()
	var out []time.Time
	for off := s.cfg.Opens; off+s.cfg.Seating <= s.cfg.Closes; off += s.cfg.SlotInterval {
		out = append(out, time.Date(y, m, d, 0, int(off/time.Minute), 0, 0, s.cfg.Location))
	}
	return out
}

// Slots returns the open slots for partySize on date, checked in slot order.
func (s *Service) Slots(ctx context.Context, date string, partySize int) ([]Availability, error) {
	if err := s.validateParty(partySize); err != nil {
		return nil, err
	}
	day, err := s.ParseDate(date)
	if err != nil {
		return nil, err
	}
	today := s.dayStart(s.now())
	if day.Before(today) {
		return nil, validate.Errorf("date", "%s is in the past", date)
	}
	if s.cfg.WindowDays > 0 && day.After(today.AddDate(0, 0, s.cfg.WindowDays)) {
		return nil, validate.Errorf("date", "bookings open %d days ahead", s.cfg.WindowDays)
	}

	times := s.SlotTimes(day)
	if len(times) == 0 {
		return []Availability{}, nil
	}
	f, err := s.loadFloor(ctx, times[0], times[len(times)-1].Add(s.cfg.Seating))
	if err != nil {
		return nil, err
	}
	earliest := s.now().Add(s.cfg.Lead)
	out := make([]Availability, 0, len(times))
	for _, start := range times {
		if start.Before(earliest) {
			continue
		}
		if a := s.check(f, start, partySize, ""); a.Available {
			out = append(out, a)
		}
	}
	s.logger.Debug("slots computed", "date", date, "party_size", partySize, "open", len(out), "total", len(times))
	return out, nil
}

// CheckSlot reports whether a party can be seated at start.
func (s *Service) CheckSlot(ctx context.Context, start time.Time, partySize int) (Availability, error) {
	return s.checkSlot(ctx, start, partySize, "")
}

func (s *Service) checkSlot(ctx context.Context, start time.Time, partySize int, exclude string) (Availability, error) {
	if err := s.validateParty(partySize); err != nil {
		return Availability{}, err
	}
	if reason := s.bookable(start); reason != "" {
		return Availability{Start: start, End: start.Add(s.cfg.Seating), PartySize: partySize, Reason: reason}, nil
	}
	f, err := s.loadFloor(ctx, start, start.Add(s.cfg.Seating))
	if err != nil {
		return Availability{}, err
	}
	return s.check(f, start, partySize, exclude), nil
}
