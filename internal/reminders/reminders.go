// Package reminders sends templated SMS reminders ahead of confirmed
// reservations and runs the background worker that drives them.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/supperclub/clubdesk/internal/render"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// MaxOffsetMinutes is one week.
const MaxOffsetMinutes = 7 * 24 * 60

// Deliverer sends one message and records it.
type Deliverer interface {
	Deliver(ctx context.Context, to, memberID, body string) (*store.Message, error)
}

// Options configures a Service.
type Options struct {
	Deliverer Deliverer
	Location  *time.Location
	Interval  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service manages reminder templates and sends due reminders.
type Service struct {
	st       *store.Store
	deliver  Deliverer
	loc      *time.Location
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	run sync.Mutex
}

// New creates a reminder service.
func New(st *store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = st.Clock.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Service{
		st: st, deliver: opts.Deliverer, loc: opts.Location, interval: opts.Interval,
		logger: opts.Logger, now: opts.Now,
	}
}

// Input is the editable part of a template.
type Input struct {
	Name          string `json:"name"`
	Body          string `json:"body"`
	OffsetMinutes int    `json:"offset_minutes"`
	Active        bool   `json:"active"`
}

func check(in Input) error {
	if err := validate.Required("name", in.Name, "body", in.Body); err != nil {
		return err
	}
	if err := render.Validate(in.Body); err != nil {
		return validate.Errorf("body", "%v", err)
	}
	if in.OffsetMinutes < 0 || in.OffsetMinutes > MaxOffsetMinutes {
		return validate.Errorf("offset_minutes", "must be between 0 and %d", MaxOffsetMinutes)
	}
	return nil
}

// Templates lists templates ordered by offset, largest first.
func (s *Service) Templates(ctx context.Context) ([]store.ReminderTemplate, error) {
	out, err := s.st.ReminderTemplates.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.ReminderTemplate) int { return b.OffsetMinutes - a.OffsetMinutes })
	return out, nil
}

// Template returns one template.
func (s *Service) Template(ctx context.Context, id string) (*store.ReminderTemplate, error) {
	t, err := s.st.ReminderTemplates.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reminder template %s: %w", id, err)
	}
	return &t, nil
}

// CreateTemplate adds a template.
func (s *Service) CreateTemplate(ctx context.Context, in Input) (*store.ReminderTemplate, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	now := s.now()
	t := store.ReminderTemplate{
		ID:            s.st.ReminderTemplates.NextID(),
		Name:          strings.TrimSpace(in.Name),
		Body:          in.Body,
		OffsetMinutes: in.OffsetMinutes,
		Active:        in.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.st.ReminderTemplates.Put(ctx, t.ID, t); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return &t, nil
}

// UpdateTemplate replaces a template's editable fields.
func (s *Service) UpdateTemplate(ctx context.Context, id string, in Input) (*store.ReminderTemplate, error) {
	t, err := s.Template(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	t.Name, t.Body, t.OffsetMinutes, t.Active = strings.TrimSpace(in.Name), in.Body, in.OffsetMinutes, in.Active
	t.UpdatedAt = s.now()
	if err := s.st.ReminderTemplates.Put(ctx, t.ID, *t); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.st.ReminderTemplates.Remove(ctx, id); err != nil {
		return fmt.Errorf("reminder template %s: %w", id, err)
	}
	return nil
}

// Preview renders a template for a reservation without sending it.
func (s *Service) Preview(ctx context.Context, templateID, reservationID string) (string, error) {
	t, err := s.Template(ctx, templateID)
	if err != nil {
		return "", err
	}
	res, err := s.st.Reservations.Fetch(ctx, reservationID)
	if err != nil {
		return "", fmt.Errorf("reservation %s: %w", reservationID, err)
	}
	return render.Expand(t.Body, s.vars(ctx, res))
}

func (s *Service) vars(ctx context.Context, res store.Reservation) render.Vars {
	v := render.ForReservation(res, s.loc)
	if res.MemberID != "" {
		if m, err := s.st.Members.Fetch(ctx, res.MemberID); err == nil {
			v = v.Merge(render.ForMember(m))
		}
	}
	return v
}

// RunDue sends, for every active template, one reminder to each confirmed
// reservation starting in (now+offset-interval, now+offset]. It returns the
// number of reminders sent. A reservation never gets the same template twice.
func (s *Service) RunDue(ctx context.Context, now time.Time) (int, error) {
	s.run.Lock()
	defer s.run.Unlock()

	templates, err := s.st.ReminderTemplates.Match(ctx, func(_ string, t store.ReminderTemplate) bool { return t.Active })
	if err != nil {
		return 0, fmt.Errorf("load templates: %w", err)
	}
	if len(templates) == 0 {
		return 0, nil
	}
	delivered, err := s.st.ReminderDeliveries.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load deliveries: %w", err)
	}
	done := make(map[string]bool, len(delivered))
	for _, d := range delivered {
		done[d.TemplateID+"/"+d.ReservationID] = true
	}

	sent := 0
	for _, t := range templates {
		hi := now.Add(time.Duration(t.OffsetMinutes) * time.Minute)
		lo := hi.Add(-s.interval)
		due, err := s.st.Reservations.Match(ctx, func(_ string, r store.Reservation) bool {
			return r.Status == store.ReservationConfirmed && r.Phone != "" &&
				r.Start.After(lo) && !r.Start.After(hi) && !done[t.ID+"/"+r.ID]
		})
		if err != nil {
			return sent, fmt.Errorf("load reservations: %w", err)
		}
		for _, res := range due {
			body, err := render.Expand(t.Body, s.vars(ctx, res))
			if err != nil {
				s.logger.Warn("reminder render failed", "template_id", t.ID, "reservation_id", res.ID, "err", err)
				continue
			}
			d := store.ReminderDelivery{
				ID:            s.st.ReminderDeliveries.NextID(),
				TemplateID:    t.ID,
				ReservationID: res.ID,
				SentAt:        s.now(),
			}
			msg, err := s.deliver.Deliver(ctx, res.Phone, res.MemberID, body)
			if msg != nil {
				d.MessageID = msg.ID
			}
			if err != nil {
				s.logger.Warn("reminder send failed", "template_id", t.ID, "reservation_id", res.ID, "err", err)
			} else {
				sent++
			}
			if err := s.st.ReminderDeliveries.Put(ctx, d.ID, d); err != nil {
				return sent, fmt.Errorf("save delivery: %w", err)
			}
		}
	}
	if sent > 0 {
		s.logger.Info("reminders sent", "count", sent)
	}
	return sent, nil
}

// Deliveries lists the reminder deliveries for a reservation.
func (s *Service) Deliveries(ctx context.Context, reservationID string) ([]store.ReminderDelivery, error) {
	return s.st.ReminderDeliveries.Match(ctx, func(_ string, d store.ReminderDelivery) bool {
		return reservationID == "" || d.ReservationID == reservationID
	})
}
