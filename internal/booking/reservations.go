package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/sms"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// BookRequest is a reservation to commit.
type BookRequest struct {
	Start     time.Time `json:"start"`
	PartySize int       `json:"party_size"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	MemberID  string    `json:"member_id,omitempty"`
	HoldID    string    `json:"hold_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Source    string    `json:"-"`
}

// Book commits a reservation. Active members book without a hold; staff
// bookings skip it too. Everyone else needs an authorized, unused hold that
// covers the party.
func (s *Service) Book(ctx context.Context, req BookRequest) (*store.Reservation, error) {
	if err := s.validateParty(req.PartySize); err != nil {
		return nil, err
	}
	member, err := s.resolveMember(ctx, &req)
	if err != nil {
		return nil, err
	}
	if err := validate.Required("name", req.Name); err != nil {
		return nil, err
	}
	if req.Source != store.SourceStaff && req.Email == "" && req.Phone == "" {
		return nil, validate.Errorf("email", "email or phone is required")
	}
	if req.Email != "" {
		if req.Email, err = validate.Email("email", req.Email); err != nil {
			return nil, err
		}
	}
	if req.Phone != "" {
		if req.Phone, err = validate.Phone("phone", req.Phone); err != nil {
			return nil, err
		}
	}

	s.commit.Lock()
	defer s.commit.Unlock()

	var hold *store.Hold
	if req.Source != store.SourceStaff && (member == nil || member.Status != store.MemberStatusActive) {
		if hold, err = s.usableHold(ctx, req.HoldID, req.PartySize); err != nil {
			return nil, err
		}
	}

	avail, err := s.CheckSlot(ctx, req.Start, req.PartySize)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, avail.Reason)
	}

	now := s.now()
	res := store.Reservation{
		ID:        s.st.Reservations.NextID(),
		Name:      strings.TrimSpace(req.Name),
		Email:     req.Email,
		Phone:     req.Phone,
		PartySize: req.PartySize,
		Start:     avail.Start,
		End:       avail.End,
		TableID:   avail.TableID,
		Status:    store.ReservationConfirmed,
		Source:    req.Source,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if member != nil {
		res.MemberID = member.ID
	}
	if res.Source == "" {
		res.Source = store.SourcePublic
		if member != nil && member.Status == store.MemberStatusActive {
			res.Source = store.SourceMember
		}
	}
	if hold != nil {
		res.HoldID = hold.ID
	}
	if err := s.st.Reservations.Put(ctx, res.ID, res); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}
	if hold != nil {
		hold.ReservationID = res.ID
		hold.UpdatedAt = now
		if err := s.st.Holds.Put(ctx, hold.ID, *hold); err != nil {
			return nil, fmt.Errorf("link hold: %w", err)
		}
	}

	s.logger.Info("reservation confirmed", "reservation_id", res.ID, "table_id", res.TableID,
		"party_size", res.PartySize, "start", res.Start, "source", res.Source)
	s.notify(ctx, EventReservationConfirmed, res)
	return &res, nil
}

// resolveMember finds the member for the request and fills contact details from it.
func (s *Service) resolveMember(ctx context.Context, req *BookRequest) (*store.Member, error) {
	if req.MemberID != "" {
		m, err := s.st.Members.Fetch(ctx, req.MemberID)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", req.MemberID, err)
		}
		if req.Name == "" {
			req.Name = m.FullName()
		}
		if req.Email == "" {
			req.Email = m.Email
		}
		if req.Phone == "" {
			req.Phone = m.Phone
		}
		return &m, nil
	}
	return s.findMember(ctx, req.Email, req.Phone)
}

func (s *Service) usableHold(ctx context.Context, id string, partySize int) (*store.Hold, error) {
	if id == "" {
		return nil, ErrHoldRequired
	}
	hold, err := s.st.Holds.Fetch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: hold %s not found", ErrHoldRequired, id)
	}
	if err != nil {
		return nil, fmt.Errorf("hold %s: %w", id, err)
	}
	switch {
	case hold.Status != store.HoldAuthorized:
		return nil, fmt.Errorf("%w: hold is %s", ErrHoldRequired, hold.Status)
	case hold.ReservationID != "":
		return nil, fmt.Errorf("%w: hold already secures %s", ErrHoldRequired, hold.ReservationID)
	case hold.AmountCents < s.cfg.HoldAmount(partySize):
		return nil, fmt.Errorf("%w: hold does not cover a party of %d", ErrHoldRequired, partySize)
	}
	return &hold, nil
}

// HoldAndBookRequest combines a hold and a booking.
type HoldAndBookRequest struct {
	BookRequest
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"-"`
}

// HoldAndBookResult is the outcome of HoldAndBook. Reservation is nil when the
// hold still needs card authentication.
type HoldAndBookResult struct {
	Hold        *store.Hold        `json:"hold,omitempty"`
	Reservation *store.Reservation `json:"reservation,omitempty"`
}

// HoldAndBook places a hold and books only once it is authorized. If booking
// fails the hold is released. Callers that book without a hold (staff and
// active members) are booked directly and no card is touched.
func (s *Service) HoldAndBook(ctx context.Context, req HoldAndBookRequest) (*HoldAndBookResult, error) {
	lookup := req.BookRequest
	member, err := s.resolveMember(ctx, &lookup)
	if err != nil {
		return nil, err
	}
	if req.Source == store.SourceStaff || (member != nil && member.Status == store.MemberStatusActive) {
		res, err := s.Book(ctx, req.BookRequest)
		if err != nil {
			return nil, err
		}
		return &HoldAndBookResult{Reservation: res}, nil
	}

	hold, err := s.CreateHold(ctx, HoldRequest{
		Start:          req.Start,
		PartySize:      req.PartySize,
		PaymentMethod:  req.PaymentMethod,
		Name:           req.Name,
		Email:          req.Email,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return &HoldAndBookResult{Hold: hold}, err
	}
	if hold.Status != store.HoldAuthorized {
		return &HoldAndBookResult{Hold: hold}, nil
	}

	req.HoldID = hold.ID
	res, err := s.Book(ctx, req.BookRequest)
	if err != nil {
		if rerr := s.releaseHold(ctx, hold.ID, "abandoned"); rerr != nil {
			s.logger.Error("release hold after failed booking", "hold_id", hold.ID, "err", rerr)
		}
		hold, _ = s.Hold(ctx, hold.ID)
		return &HoldAndBookResult{Hold: hold}, err
	}
	if res.HoldID != hold.ID {
		// The member became active between the lookup and the booking.
		if err := s.releaseHold(ctx, hold.ID, "duplicate"); err != nil {
			s.logger.Error("release unused hold", "hold_id", hold.ID, "err", err)
		}
	}
	hold, err = s.Hold(ctx, hold.ID)
	if err != nil {
		return nil, err
	}
	return &HoldAndBookResult{Hold: hold, Reservation: res}, nil
}

var transitions = map[string][]string{
	store.ReservationPending:   {store.ReservationConfirmed, store.ReservationCancelled},
	store.ReservationConfirmed: {store.ReservationSeated, store.ReservationCancelled, store.ReservationNoShow},
	store.ReservationSeated:    {store.ReservationCompleted},
}

func (s *Service) transition(ctx context.Context, id, to string, settle func(hold string) error) (*store.Reservation, error) {
	s.commit.Lock()
	defer s.commit.Unlock()

	res, err := s.st.Reservations.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", id, err)
	}
	if !slices.Contains(transitions[res.Status], to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, res.Status, to)
	}
	if settle != nil {
		if err := settle(res.HoldID); err != nil {
			return nil, err
		}
	}
	res.Status = to
	res.UpdatedAt = s.now()
	if err := s.st.Reservations.Put(ctx, res.ID, res); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}
	s.logger.Info("reservation status changed", "reservation_id", res.ID, "status", to)
	return &res, nil
}

// Cancel cancels a reservation and releases its hold.
func (s *Service) Cancel(ctx context.Context, id string) (*store.Reservation, error) {
	res, err := s.transition(ctx, id, store.ReservationCancelled, func(hold string) error {
		return s.releaseHold(ctx, hold, "requested_by_customer")
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventReservationCancelled, res)
	return res, nil
}

// MarkNoShow records a no-show and captures its hold.
func (s *Service) MarkNoShow(ctx context.Context, id string) (*store.Reservation, error) {
	return s.transition(ctx, id, store.ReservationNoShow, func(hold string) error {
		return s.captureHold(ctx, hold)
	})
}

// Seat marks the party seated; the hold is no longer needed and is released.
func (s *Service) Seat(ctx context.Context, id string) (*store.Reservation, error) {
	return s.transition(ctx, id, store.ReservationSeated, func(hold string) error {
		return s.releaseHold(ctx, hold, "requested_by_customer")
	})
}

// Complete marks a seated party finished.
func (s *Service) Complete(ctx context.Context, id string) (*store.Reservation, error) {
	return s.transition(ctx, id, store.ReservationCompleted, nil)
}

// Reschedule moves a reservation, re-checking availability without counting
// the reservation against itself.
func (s *Service) Reschedule(ctx context.Context, id string, start time.Time, partySize int) (*store.Reservation, error) {
	s.commit.Lock()
	defer s.commit.Unlock()

	res, err := s.st.Reservations.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", id, err)
	}
	if res.Status != store.ReservationPending && res.Status != store.ReservationConfirmed {
		return nil, fmt.Errorf("%w: cannot reschedule a %s reservation", ErrInvalidTransition, res.Status)
	}
	if partySize == 0 {
		partySize = res.PartySize
	}
	if res.HoldID != "" && partySize > res.PartySize {
		hold, err := s.st.Holds.Fetch(ctx, res.HoldID)
		if err != nil {
			return nil, fmt.Errorf("hold %s: %w", res.HoldID, err)
		}
		if hold.AmountCents < s.cfg.HoldAmount(partySize) {
			return nil, fmt.Errorf("%w: hold does not cover a party of %d", ErrHoldRequired, partySize)
		}
	}
	avail, err := s.checkSlot(ctx, start, partySize, res.ID)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, avail.Reason)
	}
	res.Start, res.End, res.TableID, res.PartySize = avail.Start, avail.End, avail.TableID, partySize
	res.UpdatedAt = s.now()
	if err := s.st.Reservations.Put(ctx, res.ID, res); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}
	s.logger.Info("reservation rescheduled", "reservation_id", res.ID, "start", res.Start, "table_id", res.TableID)
	return &res, nil
}

// ReservationUpdate changes the guest details of a reservation.
type ReservationUpdate struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// UpdateReservation applies a details update.
func (s *Service) UpdateReservation(ctx context.Context, id string, u ReservationUpdate) (*store.Reservation, error) {
	s.commit.Lock()
	defer s.commit.Unlock()

	res, err := s.st.Reservations.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", id, err)
	}
	if u.Name != nil {
		if err := validate.Required("name", *u.Name); err != nil {
			return nil, err
		}
		res.Name = strings.TrimSpace(*u.Name)
	}
	if u.Email != nil {
		res.Email = ""
		if *u.Email != "" {
			if res.Email, err = validate.Email("email", *u.Email); err != nil {
				return nil, err
			}
		}
	}
	if u.Phone != nil {
		res.Phone = ""
		if *u.Phone != "" {
			if res.Phone, err = validate.Phone("phone", *u.Phone); err != nil {
				return nil, err
			}
		}
	}
	if u.Notes != nil {
		res.Notes = *u.Notes
	}
	res.UpdatedAt = s.now()
	if err := s.st.Reservations.Put(ctx, res.ID, res); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}
	return &res, nil
}

// Reservation returns one reservation.
func (s *Service) Reservation(ctx context.Context, id string) (*store.Reservation, error) {
	res, err := s.st.Reservations.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", id, err)
	}
	return &res, nil
}

// ReservationFilter narrows a reservation listing. Zero fields match everything.
type ReservationFilter struct {
	From     time.Time
	To       time.Time
	Status   string
	MemberID string
	Phone    string
}

// Reservations lists reservations ordered by start time.
func (s *Service) Reservations(ctx context.Context, f ReservationFilter) ([]store.Reservation, error) {
	phone := sms.NormalizePhone(f.Phone)
	out, err := s.st.Reservations.Match(ctx, func(_ string, r store.Reservation) bool {
		switch {
		case !f.From.IsZero() && !r.End.After(f.From):
			return false
		case !f.To.IsZero() && !r.Start.Before(f.To):
			return false
		case f.Status != "" && r.Status != f.Status:
			return false
		case f.MemberID != "" && r.MemberID != f.MemberID:
			return false
		case phone != "" && r.Phone != phone:
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.Reservation) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// Calendar is everything scheduled in a range, with tables as resources.
type Calendar struct {
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	Tables        []store.Table        `json:"tables"`
	Events        []store.Event        `json:"events"`
	PrivateEvents []store.PrivateEvent `json:"private_events"`
	Reservations  []store.Reservation  `json:"reservations"`
}

// Calendar returns the tables plus the events, private events and
// reservations overlapping [from, to).
func (s *Service) Calendar(ctx context.Context, from, to time.Time) (*Calendar, error) {
	if !to.After(from) {
		return nil, validate.Errorf("to", "must be after from")
	}
	cal := &Calendar{From: from, To: to}
	var err error
	if cal.Tables, err = s.st.Tables.All(ctx); err != nil {
		return nil, fmt.Errorf("calendar tables: %w", err)
	}
	if cal.Events, err = s.st.Events.Match(ctx, func(_ string, e store.Event) bool {
		return overlaps(e.Start, e.End, from, to)
	}); err != nil {
		return nil, fmt.Errorf("calendar events: %w", err)
	}
	if cal.PrivateEvents, err = s.st.PrivateEvents.Match(ctx, func(_ string, p store.PrivateEvent) bool {
		return p.Status != store.PrivateEventCancelled && overlaps(p.Start, p.End, from, to)
	}); err != nil {
		return nil, fmt.Errorf("calendar private events: %w", err)
	}
	if cal.Reservations, err = s.Reservations(ctx, ReservationFilter{From: from, To: to}); err != nil {
		return nil, err
	}
	return cal, nil
}
