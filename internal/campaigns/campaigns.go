// Package campaigns manages bulk SMS campaigns to member audiences.
package campaigns

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/supperclub/clubdesk/internal/messaging"
	"github.com/supperclub/clubdesk/internal/render"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// Sender fans a templated message out to recipients.
type Sender interface {
	SendEach(ctx context.Context, recipients []messaging.Recipient, tmpl string) ([]messaging.Result, error)
}

// Service manages campaigns.
type Service struct {
	st     *store.Store
	sender Sender
	logger *slog.Logger
	now    func() time.Time

	// claim guards the draft/scheduled to sending transition.
	claim sync.Mutex
}

// New creates a campaign service. now defaults to the store clock.
func New(st *store.Store, sender Sender, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = st.Clock.Now
	}
	return &Service{st: st, sender: sender, logger: logger, now: now}
}

// Input is the editable part of a campaign.
type Input struct {
	Name         string     `json:"name"`
	Body         string     `json:"body"`
	Audience     string     `json:"audience"`
	Tag          string     `json:"tag,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

var audiences = []string{store.AudienceAll, store.AudienceActive, store.AudienceTag}

func (s *Service) apply(in Input, c *store.Campaign) error {
	if err := validate.Required("name", in.Name, "body", in.Body); err != nil {
		return err
	}
	if err := render.Validate(in.Body); err != nil {
		return validate.Errorf("body", "%v", err)
	}
	if in.Audience == "" {
		in.Audience = store.AudienceAll
	}
	if !slices.Contains(audiences, in.Audience) {
		return validate.Errorf("audience", "must be one of %s", strings.Join(audiences, ", "))
	}
	if in.Audience == store.AudienceTag && strings.TrimSpace(in.Tag) == "" {
		return validate.Errorf("tag", "is required for a tag audience")
	}
	if in.ScheduledFor != nil && !in.ScheduledFor.After(s.now()) {
		return validate.Errorf("scheduled_for", "must be in the future")
	}

	c.Name = strings.TrimSpace(in.Name)
	c.Body = in.Body
	c.Audience = in.Audience
	c.Tag = strings.TrimSpace(in.Tag)
	c.ScheduledFor = in.ScheduledFor
	c.Status = store.CampaignDraft
	if in.ScheduledFor != nil {
		c.Status = store.CampaignScheduled
	}
	return nil
}

func editable(c store.Campaign) bool {
	return c.Status == store.CampaignDraft || c.Status == store.CampaignScheduled
}

// Create adds a campaign, scheduled when ScheduledFor is set.
func (s *Service) Create(ctx context.Context, in Input) (*store.Campaign, error) {
	var c store.Campaign
	if err := s.apply(in, &c); err != nil {
		return nil, err
	}
	c.ID = s.st.Campaigns.NextID()
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	if err := s.st.Campaigns.Put(ctx, c.ID, c); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	return &c, nil
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, id string) (*store.Campaign, error) {
	c, err := s.st.Campaigns.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", id, err)
	}
	return &c, nil
}

// List returns campaigns with the given status (all when empty), newest first.
func (s *Service) List(ctx context.Context, status string) ([]store.Campaign, error) {
	out, err := s.st.Campaigns.Match(ctx, func(_ string, c store.Campaign) bool {
		return status == "" || c.Status == status
	})
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.Campaign) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Update edits a draft or scheduled campaign.
func (s *Service) Update(ctx context.Context, id string, in Input) (*store.Campaign, error) {
	s.claim.Lock()
	defer s.claim.Unlock()
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !editable(*c) {
		return nil, validate.Conflictf("campaign is %s", c.Status)
	}
	if err := s.apply(in, c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now()
	if err := s.st.Campaigns.Put(ctx, c.ID, *c); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	return c, nil
}

// Delete removes a campaign that has not started sending.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.claim.Lock()
	defer s.claim.Unlock()
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == store.CampaignSending {
		return validate.Conflictf("campaign is sending")
	}
	if err := s.st.Campaigns.Remove(ctx, id); err != nil {
		return fmt.Errorf("campaign %s: %w", id, err)
	}
	return nil
}

// Recipients returns the members a campaign would reach.
func (s *Service) Recipients(ctx context.Context, c store.Campaign) ([]messaging.Recipient, error) {
	if !slices.Contains(audiences, c.Audience) {
		return nil, validate.Errorf("audience", "unknown audience %q", c.Audience)
	}
	if c.Audience == store.AudienceTag && c.Tag == "" {
		return nil, validate.Errorf("tag", "is required for a tag audience")
	}
	members, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool {
		if m.Phone == "" {
			return false
		}
		switch c.Audience {
		case store.AudienceActive:
			return m.Status == store.MemberStatusActive
		case store.AudienceTag:
			return slices.Contains(m.Tags, c.Tag)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("load audience: %w", err)
	}
	out := make([]messaging.Recipient, 0, len(members))
	for _, m := range members {
		out = append(out, messaging.Recipient{Phone: m.Phone, MemberID: m.ID, Vars: render.ForMember(m)})
	}
	return out, nil
}

// Send sends a draft or scheduled campaign now. A campaign is sent at most once.
func (s *Service) Send(ctx context.Context, id string) (*store.Campaign, error) {
	s.claim.Lock()
	c, err := s.Get(ctx, id)
	if err != nil {
		s.claim.Unlock()
		return nil, err
	}
	if !editable(*c) {
		s.claim.Unlock()
		return nil, validate.Conflictf("campaign is already %s", c.Status)
	}
	prev := *c
	c.Status = store.CampaignSending
	c.UpdatedAt = s.now()
	err = s.st.Campaigns.Put(ctx, c.ID, *c)
	s.claim.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}

	recipients, err := s.Recipients(ctx, *c)
	if err != nil {
		if perr := s.st.Campaigns.Put(ctx, prev.ID, prev); perr != nil {
			s.logger.Error("restore campaign status", "campaign_id", prev.ID, "err", perr)
		}
		return nil, err
	}
	results, err := s.sender.SendEach(ctx, recipients, c.Body)
	for _, r := range results {
		if r.Status == store.MessageSent {
			c.SentCount++
		} else if r.Status != "" {
			c.FailedCount++
		}
	}
	sentAt := s.now()
	c.Status = store.CampaignSent
	c.SentAt = &sentAt
	c.UpdatedAt = sentAt
	if perr := s.st.Campaigns.Put(ctx, c.ID, *c); perr != nil {
		return nil, fmt.Errorf("save campaign: %w", perr)
	}
	if err != nil {
		return c, fmt.Errorf("send campaign %s: %w", c.ID, err)
	}
	s.logger.Info("campaign sent", "campaign_id", c.ID, "sent", c.SentCount, "failed", c.FailedCount)
	return c, nil
}

// DispatchDue sends every scheduled campaign whose time has come and returns how many were sent.
func (s *Service) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.st.Campaigns.Match(ctx, func(_ string, c store.Campaign) bool {
		return c.Status == store.CampaignScheduled && c.ScheduledFor != nil && !c.ScheduledFor.After(now)
	})
	if err != nil {
		return 0, fmt.Errorf("load due campaigns: %w", err)
	}
	sent := 0
	for _, c := range due {
		if _, err := s.Send(ctx, c.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
