package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/auth"
	"github.com/supperclub/clubdesk/internal/booking"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

func partySize(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.URL.Query().Get("party_size"))
	return n, err == nil
}

// slotStart reads ?start=RFC3339, or ?date=YYYY-MM-DD&time=HH:MM in the
// restaurant's timezone.
func (h *Handler) slotStart(r *http.Request) (time.Time, bool) {
	q := r.URL.Query()
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		return t, err == nil
	}
	t, err := time.ParseInLocation(booking.DateLayout+" 15:04", q.Get("date")+" "+q.Get("time"), h.svc.Booking.Config().Location)
	return t, err == nil
}

// CheckAvailability handles GET /api/availability.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	start, ok := h.slotStart(r)
	if !ok {
		badRequest(w, "start (RFC 3339) or date and time are required")
		return
	}
	party, ok := partySize(r)
	if !ok {
		badRequest(w, "party_size must be a number")
		return
	}
	avail, err := h.svc.Booking.CheckSlot(r.Context(), start, party)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, avail)
}

// ListSlots handles GET /api/availability/slots.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	party, ok := partySize(r)
	if !ok {
		badRequest(w, "party_size must be a number")
		return
	}
	slots, err := h.svc.Booking.Slots(r.Context(), r.URL.Query().Get("date"), party)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, slots)
}

// CheckMembership handles POST /api/check-membership.
func (h *Handler) CheckMembership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if !decode(w, r, &req) {
		return
	}
	m, err := h.svc.Booking.CheckMembership(r.Context(), req.Email, req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, m)
}

// CreateHold handles POST /api/create-hold.
func (h *Handler) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req booking.HoldRequest
	if !decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	hold, err := h.svc.Booking.CreateHold(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, hold)
}

// ConfirmHold handles POST /api/holds/{id}/confirm.
func (h *Handler) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.svc.Booking.ConfirmHold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, hold)
}

// GetHold handles GET /api/holds/{id}.
func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.svc.Booking.Hold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, hold)
}

// CreateReservation handles POST /api/reservations. With a payment_method the
// hold is placed first; a hold still needing authentication answers 202.
// Staff callers book without a hold and may name a member.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req booking.HoldAndBookRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if auth.HasRole(ctx, auth.RoleStaff) {
		req.Source = store.SourceStaff
	} else {
		req.Source = ""
		req.MemberID = ""
	}

	if req.PaymentMethod == "" || req.Source == store.SourceStaff {
		res, err := h.svc.Booking.Book(ctx, req.BookRequest)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		server.JSON(w, http.StatusCreated, booking.HoldAndBookResult{Reservation: res})
		return
	}

	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	out, err := h.svc.Booking.HoldAndBook(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out.Reservation == nil {
		server.JSON(w, http.StatusAccepted, out)
		return
	}
	server.JSON(w, http.StatusCreated, out)
}

// ListReservations handles GET /api/reservations.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := booking.ReservationFilter{Status: q.Get("status"), MemberID: q.Get("member_id"), Phone: q.Get("phone")}
	var err error
	if f.From, err = optionalTime(q.Get("from")); err != nil {
		badRequest(w, "from: "+err.Error())
		return
	}
	if f.To, err = optionalTime(q.Get("to")); err != nil {
		badRequest(w, "to: "+err.Error())
		return
	}
	out, err := h.svc.Booking.Reservations(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// GetReservation handles GET /api/reservations/{id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Booking.Reservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, res)
}

// UpdateReservation handles PATCH /api/reservations/{id}. A start or
// party_size change reschedules; the rest edits guest details.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		booking.ReservationUpdate
		Start     *time.Time `json:"start,omitempty"`
		PartySize *int       `json:"party_size,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctx, id := r.Context(), chi.URLParam(r, "id")
	if req.Start != nil || req.PartySize != nil {
		cur, err := h.svc.Booking.Reservation(ctx, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		start, party := cur.Start, cur.PartySize
		if req.Start != nil {
			start = *req.Start
		}
		if req.PartySize != nil {
			party = *req.PartySize
		}
		if _, err := h.svc.Booking.Reschedule(ctx, id, start, party); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	res, err := h.svc.Booking.UpdateReservation(ctx, id, req.ReservationUpdate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, res)
}

// reservationAction serves the POST /api/reservations/{id}/<status> routes.
func (h *Handler) reservationAction(fn func(ctx context.Context, id string) (*store.Reservation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		server.JSON(w, http.StatusOK, res)
	}
}

// GetCalendar handles GET /api/calendar?from=&to=. Dates (YYYY-MM-DD) are
// read in the restaurant's timezone; to defaults to a week after from.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r, 7)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cal, err := h.svc.Booking.Calendar(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, cal)
}

// dateRange reads ?from and ?to as dates or RFC 3339 times. A missing from is
// today; a missing to is days after from.
func (h *Handler) dateRange(r *http.Request, days int) (time.Time, time.Time, error) {
	q := r.URL.Query()
	loc := h.svc.Booking.Config().Location
	from, err := dayOrTime("from", q.Get("from"), loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() {
		now := h.now().In(loc)
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	}
	to, err := dayOrTime("to", q.Get("to"), loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, days)
	}
	return from, to, nil
}

func dayOrTime(field, s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(booking.DateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, validate.Errorf(field, "must be YYYY-MM-DD or an RFC 3339 time")
	}
	return t, nil
}

func optionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
