// Package members manages member records and their cards on file.
package members

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/payments"
	"github.com/supperclub/clubdesk/internal/sms"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// Processor is the subset of the payment processor used for cards on file.
type Processor interface {
	CreateCustomer(ctx context.Context, p payments.CustomerParams) (*payments.Customer, error)
	CreateSetupIntent(ctx context.Context, customerID string) (*payments.SetupIntent, error)
	AttachPaymentMethod(ctx context.Context, id, customerID string) (*payments.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, id string) error
}

// Service manages members.
type Service struct {
	st        *store.Store
	processor Processor
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a member service. now defaults to the store clock.
func New(st *store.Store, processor Processor, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = st.Clock.Now
	}
	return &Service{st: st, processor: processor, logger: logger, now: now}
}

// Input is the editable part of a member.
type Input struct {
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Status         string   `json:"status"`
	HouseAccountID string   `json:"house_account_id"`
	Tags           []string `json:"tags"`
}

var statuses = []string{store.MemberStatusActive, store.MemberStatusInactive, store.MemberStatusSuspended}

func (s *Service) apply(ctx context.Context, id string, in Input, m *store.Member) error {
	if err := validate.Required("first_name", in.FirstName); err != nil {
		return err
	}
	email, err := validate.Email("email", in.Email)
	if err != nil {
		return err
	}
	phone := ""
	if strings.TrimSpace(in.Phone) != "" {
		if phone, err = validate.Phone("phone", in.Phone); err != nil {
			return err
		}
	}
	if in.Status == "" {
		in.Status = store.MemberStatusActive
	}
	if !slices.Contains(statuses, in.Status) {
		return validate.Errorf("status", "must be one of %s", strings.Join(statuses, ", "))
	}
	dupes, err := s.st.Members.Match(ctx, func(mid string, o store.Member) bool {
		return mid != id && (strings.EqualFold(o.Email, email) ||
			(in.HouseAccountID != "" && o.HouseAccountID == in.HouseAccountID))
	})
	if err != nil {
		return fmt.Errorf("check duplicates: %w", err)
	}
	if len(dupes) > 0 {
		return validate.Conflictf("member %s already uses that email or house account", dupes[0].ID)
	}

	m.FirstName = strings.TrimSpace(in.FirstName)
	m.LastName = strings.TrimSpace(in.LastName)
	m.Email = email
	m.Phone = phone
	m.Status = in.Status
	m.HouseAccountID = strings.TrimSpace(in.HouseAccountID)
	m.Tags = in.Tags
	return nil
}

// Create adds a member.
func (s *Service) Create(ctx context.Context, in Input) (*store.Member, error) {
	var m store.Member
	if err := s.apply(ctx, "", in, &m); err != nil {
		return nil, err
	}
	m.ID = s.st.Members.NextID()
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	if err := s.st.Members.Put(ctx, m.ID, m); err != nil {
		return nil, fmt.Errorf("save member: %w", err)
	}
	s.logger.Info("member created", "member_id", m.ID)
	return &m, nil
}

// Update replaces a member's editable fields.
func (s *Service) Update(ctx context.Context, id string, in Input) (*store.Member, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, id, in, m); err != nil {
		return nil, err
	}
	m.UpdatedAt = s.now()
	if err := s.st.Members.Put(ctx, m.ID, *m); err != nil {
		return nil, fmt.Errorf("save member: %w", err)
	}
	return m, nil
}

// Get returns one member.
func (s *Service) Get(ctx context.Context, id string) (*store.Member, error) {
	m, err := s.st.Members.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", id, err)
	}
	return &m, nil
}

// Delete removes a member and their cards. Cards are detached at the processor first.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	cards, err := s.PaymentMethods(ctx, id)
	if err != nil {
		return err
	}
	for _, pm := range cards {
		if err := s.detach(ctx, pm); err != nil {
			return err
		}
	}
	if err := s.st.Members.Remove(ctx, id); err != nil {
		return fmt.Errorf("member %s: %w", id, err)
	}
	s.logger.Info("member deleted", "member_id", id, "cards_removed", len(cards))
	return nil
}

// List returns members matching q (name, email or phone) and status, sorted by name.
func (s *Service) List(ctx context.Context, q, status string) ([]store.Member, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	qPhone := sms.NormalizePhone(q)
	out, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool {
		if status != "" && m.Status != status {
			return false
		}
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(m.FullName()), q) ||
			strings.Contains(strings.ToLower(m.Email), q) ||
			strings.Contains(m.Phone, q) ||
			(qPhone != "" && m.Phone == qPhone)
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.Member) int {
		if c := strings.Compare(strings.ToLower(a.LastName), strings.ToLower(b.LastName)); c != 0 {
			return c
		}
		return strings.Compare(strings.ToLower(a.FirstName), strings.ToLower(b.FirstName))
	})
	return out, nil
}

// ByPhone returns the member with the given phone number, or nil.
func (s *Service) ByPhone(ctx context.Context, phone string) (*store.Member, error) {
	phone = sms.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	found, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool { return m.Phone == phone })
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// ---------------------------------------------------------------------------
// Cards on file
// ---------------------------------------------------------------------------

// CardSetup is what a browser needs to collect a card.
type CardSetup struct {
	CustomerID   string `json:"customer_id"`
	SetupIntent  string `json:"setup_intent"`
	ClientSecret string `json:"client_secret"`
}

// SetupCard ensures the member has a processor customer and starts card collection.
func (s *Service) SetupCard(ctx context.Context, memberID string) (*CardSetup, error) {
	if s.processor == nil {
		return nil, payments.ErrNotConfigured
	}
	m, err := s.ensureCustomer(ctx, memberID)
	if err != nil {
		return nil, err
	}
	si, err := s.processor.CreateSetupIntent(ctx, m.ProcessorCustomerID)
	if err != nil {
		return nil, fmt.Errorf("create setup intent: %w", err)
	}
	return &CardSetup{CustomerID: m.ProcessorCustomerID, SetupIntent: si.ID, ClientSecret: si.ClientSecret}, nil
}

func (s *Service) ensureCustomer(ctx context.Context, memberID string) (*store.Member, error) {
	m, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.ProcessorCustomerID != "" {
		return m, nil
	}
	cus, err := s.processor.CreateCustomer(ctx, payments.CustomerParams{
		Email: m.Email, Name: m.FullName(), Phone: m.Phone, MemberID: m.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	m.ProcessorCustomerID = cus.ID
	m.UpdatedAt = s.now()
	if err := s.st.Members.Put(ctx, m.ID, *m); err != nil {
		return nil, fmt.Errorf("save member: %w", err)
	}
	s.logger.Info("processor customer created", "member_id", m.ID, "customer_id", cus.ID)
	return m, nil
}

// PaymentMethods lists a member's cards, default first.
func (s *Service) PaymentMethods(ctx context.Context, memberID string) ([]store.PaymentMethod, error) {
	out, err := s.st.PaymentMethods.Match(ctx, func(_ string, pm store.PaymentMethod) bool { return pm.MemberID == memberID })
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.PaymentMethod) int {
		switch {
		case a.IsDefault == b.IsDefault:
			return a.CreatedAt.Compare(b.CreatedAt)
		case a.IsDefault:
			return -1
		}
		return 1
	})
	return out, nil
}

// AddPaymentMethod attaches a processor payment method to the member. The
// first card becomes the default.
func (s *Service) AddPaymentMethod(ctx context.Context, memberID, processorID string) (*store.PaymentMethod, error) {
	if err := validate.Required("payment_method", processorID); err != nil {
		return nil, err
	}
	if s.processor == nil {
		return nil, payments.ErrNotConfigured
	}
	m, err := s.ensureCustomer(ctx, memberID)
	if err != nil {
		return nil, err
	}
	existing, err := s.PaymentMethods(ctx, memberID)
	if err != nil {
		return nil, err
	}
	for _, pm := range existing {
		if pm.ProcessorID == processorID {
			return nil, validate.Conflictf("payment method already on file as %s", pm.ID)
		}
	}
	attached, err := s.processor.AttachPaymentMethod(ctx, processorID, m.ProcessorCustomerID)
	if err != nil {
		var pe *payments.Error
		if errors.As(err, &pe) && pe.Code == "resource_missing" {
			return nil, validate.Errorf("payment_method", "%s", pe.Message)
		}
		return nil, fmt.Errorf("attach payment method: %w", err)
	}
	pm := store.PaymentMethod{
		ID:          s.st.PaymentMethods.NextID(),
		MemberID:    memberID,
		ProcessorID: attached.ID,
		Brand:       attached.Card.Brand,
		Last4:       attached.Card.Last4,
		ExpMonth:    attached.Card.ExpMonth,
		ExpYear:     attached.Card.ExpYear,
		IsDefault:   len(existing) == 0,
		CreatedAt:   s.now(),
	}
	if err := s.st.PaymentMethods.Put(ctx, pm.ID, pm); err != nil {
		return nil, fmt.Errorf("save payment method: %w", err)
	}
	s.logger.Info("card on file added", "member_id", memberID, "payment_method_id", pm.ID, "brand", pm.Brand)
	return &pm, nil
}

func (s *Service) memberCard(ctx context.Context, memberID, id string) (*store.PaymentMethod, error) {
	pm, err := s.st.PaymentMethods.Fetch(ctx, id)
	if err != nil || pm.MemberID != memberID {
		return nil, fmt.Errorf("payment method %s: %w", id, store.ErrNotFound)
	}
	return &pm, nil
}

func (s *Service) detach(ctx context.Context, pm store.PaymentMethod) error {
	if s.processor == nil {
		return payments.ErrNotConfigured
	}
	if err := s.processor.DetachPaymentMethod(ctx, pm.ProcessorID); err != nil {
		var pe *payments.Error
		if !errors.As(err, &pe) || pe.Code != "resource_missing" {
			return fmt.Errorf("detach payment method: %w", err)
		}
	}
	if err := s.st.PaymentMethods.Remove(ctx, pm.ID); err != nil {
		return fmt.Errorf("remove payment method: %w", err)
	}
	return nil
}

// RemovePaymentMethod detaches and deletes a card. When it was the default,
// the oldest remaining card is promoted.
func (s *Service) RemovePaymentMethod(ctx context.Context, memberID, id string) error {
	pm, err := s.memberCard(ctx, memberID, id)
	if err != nil {
		return err
	}
	if err := s.detach(ctx, *pm); err != nil {
		return err
	}
	if !pm.IsDefault {
		return nil
	}
	rest, err := s.PaymentMethods(ctx, memberID)
	if err != nil || len(rest) == 0 {
		return err
	}
	_, err = s.SetDefaultPaymentMethod(ctx, memberID, rest[0].ID)
	return err
}

// SetDefaultPaymentMethod makes id the member's only default card.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, memberID, id string) (*store.PaymentMethod, error) {
	target, err := s.memberCard(ctx, memberID, id)
	if err != nil {
		return nil, err
	}
	cards, err := s.PaymentMethods(ctx, memberID)
	if err != nil {
		return nil, err
	}
	for _, pm := range cards {
		want := pm.ID == target.ID
		if pm.IsDefault == want {
			continue
		}
		pm.IsDefault = want
		if err := s.st.PaymentMethods.Put(ctx, pm.ID, pm); err != nil {
			return nil, fmt.Errorf("save payment method: %w", err)
		}
	}
	target.IsDefault = true
	return target, nil
}
