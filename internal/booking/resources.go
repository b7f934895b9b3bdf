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

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

// Tables lists every table.
func (s *Service) Tables(ctx context.Context) ([]store.Table, error) {
	return s.st.Tables.All(ctx)
}

func checkTable(t *store.Table) error {
	t.Name = strings.TrimSpace(t.Name)
	if err := validate.Required("name", t.Name); err != nil {
		return err
	}
	if t.Seats < 1 {
		return validate.Errorf("seats", "must be at least 1")
	}
	if t.MinSeats == 0 {
		t.MinSeats = 1
	}
	if t.MinSeats < 1 || t.MinSeats > t.Seats {
		return validate.Errorf("min_seats", "must be between 1 and seats")
	}
	return nil
}

// CreateTable adds a table.
func (s *Service) CreateTable(ctx context.Context, t store.Table) (*store.Table, error) {
	if err := checkTable(&t); err != nil {
		return nil, err
	}
	t.ID = s.st.Tables.NextID()
	if err := s.st.Tables.Put(ctx, t.ID, t); err != nil {
		return nil, fmt.Errorf("save table: %w", err)
	}
	return &t, nil
}

// UpdateTable replaces a table's fields.
func (s *Service) UpdateTable(ctx context.Context, id string, t store.Table) (*store.Table, error) {
	if _, err := s.st.Tables.Fetch(ctx, id); err != nil {
		return nil, fmt.Errorf("table %s: %w", id, err)
	}
	if err := checkTable(&t); err != nil {
		return nil, err
	}
	t.ID = id
	if err := s.st.Tables.Put(ctx, id, t); err != nil {
		return nil, fmt.Errorf("save table: %w", err)
	}
	return &t, nil
}

// DeleteTable removes a table that has no upcoming reservations.
func (s *Service) DeleteTable(ctx context.Context, id string) error {
	now := s.now()
	upcoming, err := s.st.Reservations.Match(ctx, func(_ string, r store.Reservation) bool {
		return r.TableID == id && r.Live() && r.End.After(now)
	})
	if err != nil {
		return fmt.Errorf("check reservations: %w", err)
	}
	if len(upcoming) > 0 {
		return validate.Conflictf("table has %d upcoming reservations", len(upcoming))
	}
	if err := s.st.Tables.Remove(ctx, id); err != nil {
		return fmt.Errorf("table %s: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

var eventKinds = []string{store.EventKindClosure, store.EventKindSpecial, store.EventKindNote}

// Events lists events overlapping [from, to). Zero bounds are open.
func (s *Service) Events(ctx context.Context, from, to time.Time) ([]store.Event, error) {
	out, err := s.st.Events.Match(ctx, func(_ string, e store.Event) bool {
		return (from.IsZero() || e.End.After(from)) && (to.IsZero() || e.Start.Before(to))
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b store.Event) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func checkEvent(e *store.Event) error {
	e.Title = strings.TrimSpace(e.Title)
	if err := validate.Required("title", e.Title); err != nil {
		return err
	}
	if e.Kind == "" {
		e.Kind = store.EventKindNote
	}
	if !slices.Contains(eventKinds, e.Kind) {
		return validate.Errorf("kind", "must be one of %s", strings.Join(eventKinds, ", "))
	}
	if !e.End.After(e.Start) {
		return validate.Errorf("end", "must be after start")
	}
	return nil
}

// CreateEvent adds a calendar event.
func (s *Service) CreateEvent(ctx context.Context, e store.Event) (*store.Event, error) {
	if err := checkEvent(&e); err != nil {
		return nil, err
	}
	e.ID = s.st.Events.NextID()
	if err := s.st.Events.Put(ctx, e.ID, e); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}
	return &e, nil
}

// UpdateEvent replaces an event.
func (s *Service) UpdateEvent(ctx context.Context, id string, e store.Event) (*store.Event, error) {
	if _, err := s.st.Events.Fetch(ctx, id); err != nil {
		return nil, fmt.Errorf("event %s: %w", id, err)
	}
	if err := checkEvent(&e); err != nil {
		return nil, err
	}
	e.ID = id
	if err := s.st.Events.Put(ctx, id, e); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}
	return &e, nil
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	if err := s.st.Events.Remove(ctx, id); err != nil {
		return fmt.Errorf("event %s: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Private events
// ---------------------------------------------------------------------------

// PrivateEvents lists private events overlapping [from, to). Zero bounds are open.
func (s *Service) PrivateEvents(ctx context.Context, from, to time.Time) ([]store.PrivateEvent, error) {
	out, err := s.st.PrivateEvents.Match(ctx, func(_ string, p store.PrivateEvent) bool {
		return (from.IsZero() || p.End.After(from)) && (to.IsZero() || p.Start.Before(to))
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b store.PrivateEvent) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (s *Service) checkPrivateEvent(ctx context.Context, p *store.PrivateEvent) error {
	p.Title = strings.TrimSpace(p.Title)
	if err := validate.Required("title", p.Title, "contact_name", p.ContactName); err != nil {
		return err
	}
	if !p.End.After(p.Start) {
		return validate.Errorf("end", "must be after start")
	}
	if p.GuestCount < 0 {
		return validate.Errorf("guest_count", "must not be negative")
	}
	if p.DepositCents < 0 {
		return validate.Errorf("deposit_cents", "must not be negative")
	}
	if !p.Buyout && len(p.TableIDs) == 0 {
		return validate.Errorf("table_ids", "choose tables or a buyout")
	}
	for _, id := range p.TableIDs {
		if _, err := s.st.Tables.Fetch(ctx, id); err != nil {
			return validate.Errorf("table_ids", "unknown table %s", id)
		}
	}
	var err error
	if p.Email != "" {
		if p.Email, err = validate.Email("email", p.Email); err != nil {
			return err
		}
	}
	if p.Phone != "" {
		if p.Phone, err = validate.Phone("phone", p.Phone); err != nil {
			return err
		}
	}
	switch p.Status {
	case "":
		p.Status = store.PrivateEventInquiry
	case store.PrivateEventInquiry, store.PrivateEventConfirmed, store.PrivateEventCancelled:
	default:
		return validate.Errorf("status", "unknown status %q", p.Status)
	}
	return nil
}

// CreatePrivateEvent records a private event inquiry or booking.
func (s *Service) CreatePrivateEvent(ctx context.Context, p store.PrivateEvent) (*store.PrivateEvent, error) {
	if err := s.checkPrivateEvent(ctx, &p); err != nil {
		return nil, err
	}
	p.ID = s.st.PrivateEvents.NextID()
	p.CreatedAt = s.now()
	if err := s.st.PrivateEvents.Put(ctx, p.ID, p); err != nil {
		return nil, fmt.Errorf("save private event: %w", err)
	}
	s.logger.Info("private event created", "private_event_id", p.ID, "status", p.Status, "buyout", p.Buyout)
	return &p, nil
}

// UpdatePrivateEvent replaces a private event, keeping its creation time.
func (s *Service) UpdatePrivateEvent(ctx context.Context, id string, p store.PrivateEvent) (*store.PrivateEvent, error) {
	existing, err := s.st.PrivateEvents.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("private event %s: %w", id, err)
	}
	if err := s.checkPrivateEvent(ctx, &p); err != nil {
		return nil, err
	}
	p.ID, p.CreatedAt = id, existing.CreatedAt
	if err := s.st.PrivateEvents.Put(ctx, id, p); err != nil {
		return nil, fmt.Errorf("save private event: %w", err)
	}
	return &p, nil
}

// DeletePrivateEvent removes a private event.
func (s *Service) DeletePrivateEvent(ctx context.Context, id string) error {
	if err := s.st.PrivateEvents.Remove(ctx, id); err != nil {
		return fmt.Errorf("private event %s: %w", id, err)
	}
	return nil
}
