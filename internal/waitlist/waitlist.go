// Package waitlist handles membership applications and their review.
package waitlist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// EventSubmitted is published when an application arrives.
const EventSubmitted = "waitlist.submitted"

// Notifier publishes domain events.
type Notifier interface {
	Notify(ctx context.Context, eventType string, data any)
}

// Service manages the waitlist.
type Service struct {
	st       *store.Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a waitlist service. now defaults to the store clock.
func New(st *store.Store, notifier Notifier, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = st.Clock.Now
	}
	return &Service{st: st, notifier: notifier, logger: logger, now: now}
}

// Application is a public waitlist submission.
type Application struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Company    string `json:"company,omitempty"`
	ReferredBy string `json:"referred_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Submit records an application. A second pending application from the same
// email is rejected.
func (s *Service) Submit(ctx context.Context, app Application) (*store.WaitlistEntry, error) {
	if err := validate.Required("first_name", app.FirstName, "last_name", app.LastName); err != nil {
		return nil, err
	}
	email, err := validate.Email("email", app.Email)
	if err != nil {
		return nil, err
	}
	phone, err := validate.Phone("phone", app.Phone)
	if err != nil {
		return nil, err
	}
	dupes, err := s.st.Waitlist.Match(ctx, func(_ string, e store.WaitlistEntry) bool {
		return e.Status == store.WaitlistPending && e.Email == email
	})
	if err != nil {
		return nil, fmt.Errorf("check duplicates: %w", err)
	}
	if len(dupes) > 0 {
		return nil, validate.Conflictf("an application for %s is already pending", email)
	}

	e := store.WaitlistEntry{
		ID:         s.st.Waitlist.NextID(),
		FirstName:  strings.TrimSpace(app.FirstName),
		LastName:   strings.TrimSpace(app.LastName),
		Email:      email,
		Phone:      phone,
		Company:    strings.TrimSpace(app.Company),
		ReferredBy: strings.TrimSpace(app.ReferredBy),
		Notes:      app.Notes,
		Status:     store.WaitlistPending,
		CreatedAt:  s.now(),
	}
	if err := s.st.Waitlist.Put(ctx, e.ID, e); err != nil {
		return nil, fmt.Errorf("save application: %w", err)
	}
	s.logger.Info("waitlist application submitted", "entry_id", e.ID)
	if s.notifier != nil {
		s.notifier.Notify(ctx, EventSubmitted, e)
	}
	return &e, nil
}

// List returns entries with the given status (all when empty), oldest first.
func (s *Service) List(ctx context.Context, status string) ([]store.WaitlistEntry, error) {
	out, err := s.st.Waitlist.Match(ctx, func(_ string, e store.WaitlistEntry) bool {
		return status == "" || e.Status == status
	})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.WaitlistEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id string) (*store.WaitlistEntry, error) {
	e, err := s.st.Waitlist.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("waitlist entry %s: %w", id, err)
	}
	return &e, nil
}

// Update replaces the staff notes on an entry.
func (s *Service) Update(ctx context.Context, id, notes string) (*store.WaitlistEntry, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Notes = notes
	if err := s.st.Waitlist.Put(ctx, e.ID, *e); err != nil {
		return nil, fmt.Errorf("save entry: %w", err)
	}
	return e, nil
}

func (s *Service) review(ctx context.Context, id, reviewer, status string) (*store.WaitlistEntry, error) {
	if err := validate.Required("reviewer", reviewer); err != nil {
		return nil, err
	}
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != store.WaitlistPending {
		return nil, validate.Conflictf("entry is already %s", e.Status)
	}
	now := s.now()
	e.Status = status
	e.ReviewedBy = reviewer
	e.ReviewedAt = &now
	return e, nil
}

// Approve creates an active member from a pending entry and links it.
func (s *Service) Approve(ctx context.Context, id, reviewer string) (*store.WaitlistEntry, *store.Member, error) {
	e, err := s.review(ctx, id, reviewer, store.WaitlistApproved)
	if err != nil {
		return nil, nil, err
	}
	existing, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool { return strings.EqualFold(m.Email, e.Email) })
	if err != nil {
		return nil, nil, fmt.Errorf("check members: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil, validate.Conflictf("member %s already uses %s", existing[0].ID, e.Email)
	}

	m := store.Member{
		ID:        s.st.Members.NextID(),
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Email:     e.Email,
		Phone:     e.Phone,
		Status:    store.MemberStatusActive,
		CreatedAt: *e.ReviewedAt,
		UpdatedAt: *e.ReviewedAt,
	}
	if err := s.st.Members.Put(ctx, m.ID, m); err != nil {
		return nil, nil, fmt.Errorf("save member: %w", err)
	}
	e.MemberID = m.ID
	if err := s.st.Waitlist.Put(ctx, e.ID, *e); err != nil {
		return nil, nil, fmt.Errorf("save entry: %w", err)
	}
	s.logger.Info("waitlist entry approved", "entry_id", e.ID, "member_id", m.ID, "reviewer", reviewer)
	return e, &m, nil
}

// Deny rejects a pending entry.
func (s *Service) Deny(ctx context.Context, id, reviewer string) (*store.WaitlistEntry, error) {
	e, err := s.review(ctx, id, reviewer, store.WaitlistDenied)
	if err != nil {
		return nil, err
	}
	if err := s.st.Waitlist.Put(ctx, e.ID, *e); err != nil {
		return nil, fmt.Errorf("save entry: %w", err)
	}
	s.logger.Info("waitlist entry denied", "entry_id", e.ID, "reviewer", reviewer)
	return e, nil
}
