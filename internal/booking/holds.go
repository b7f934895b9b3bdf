package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/payments"
	"github.com/supperclub/clubdesk/internal/sms"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// Membership is the result of a membership lookup.
type Membership struct {
	IsMember      bool   `json:"is_member"`
	MemberID      string `json:"member_id,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	Status        string `json:"status,omitempty"`
	Active        bool   `json:"active"`
	HasCardOnFile bool   `json:"has_card_on_file"`
}

// CheckMembership looks a guest up by email or phone.
func (s *Service) CheckMembership(ctx context.Context, email, phone string) (Membership, error) {
	if strings.TrimSpace(email) == "" && strings.TrimSpace(phone) == "" {
		return Membership{}, validate.Errorf("email", "email or phone is required")
	}
	m, err := s.findMember(ctx, email, phone)
	if err != nil || m == nil {
		return Membership{}, err
	}
	cards, err := s.st.PaymentMethods.Match(ctx, func(_ string, pm store.PaymentMethod) bool {
		return pm.MemberID == m.ID
	})
	if err != nil {
		return Membership{}, fmt.Errorf("load payment methods: %w", err)
	}
	return Membership{
		IsMember:      true,
		MemberID:      m.ID,
		FirstName:     m.FirstName,
		Status:        m.Status,
		Active:        m.Status == store.MemberStatusActive,
		HasCardOnFile: len(cards) > 0,
	}, nil
}

// findMember matches on case-insensitive email first, then normalised phone.
func (s *Service) findMember(ctx context.Context, email, phone string) (*store.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phone = sms.NormalizePhone(phone)
	if email == "" && phone == "" {
		return nil, nil
	}
	found, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool {
		return email != "" && strings.EqualFold(m.Email, email)
	})
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	if len(found) == 0 && phone != "" {
		found, err = s.st.Members.Match(ctx, func(_ string, m store.Member) bool {
			return sms.NormalizePhone(m.Phone) == phone
		})
		if err != nil {
			return nil, fmt.Errorf("find member: %w", err)
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// HoldRequest asks for a card authorization for a slot.
type HoldRequest struct {
	Start          time.Time `json:"start"`
	PartySize      int       `json:"party_size"`
	PaymentMethod  string    `json:"payment_method"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	IdempotencyKey string    `json:"-"`
}

// CreateHold authorizes the hold amount for the party on the guest's card.
// A declined card returns the failed hold together with an error wrapping ErrPaymentFailed.
func (s *Service) CreateHold(ctx context.Context, req HoldRequest) (*store.Hold, error) {
	if err := validate.Required("payment_method", req.PaymentMethod); err != nil {
		return nil, err
	}
	avail, err := s.CheckSlot(ctx, req.Start, req.PartySize)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, avail.Reason)
	}
	if s.processor == nil {
		return nil, payments.ErrNotConfigured
	}

	now := s.now()
	hold := store.Hold{
		ID:          s.st.Holds.NextID(),
		AmountCents: s.cfg.HoldAmount(req.PartySize),
		Currency:    s.cfg.Currency,
		PartySize:   req.PartySize,
		Start:       req.Start,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	local := req.Start.In(s.cfg.Location)
	intent, err := s.processor.CreateHold(ctx, payments.HoldParams{
		AmountCents:    hold.AmountCents,
		Currency:       hold.Currency,
		PaymentMethod:  req.PaymentMethod,
		ReceiptEmail:   hold.Email,
		Description:    fmt.Sprintf("Reservation hold, party of %d, %s", req.PartySize, local.Format("Mon Jan 2 3:04 PM")),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]string{"hold_id": hold.ID, "name": req.Name},
	})
	if err != nil {
		var pe *payments.Error
		if !errors.As(err, &pe) || !payments.IsCardError(err) {
			return nil, fmt.Errorf("create hold: %w", err)
		}
		hold.Status = store.HoldFailed
		hold.FailureMessage = pe.Message
		if pe.PaymentIntent != nil {
			hold.IntentID = pe.PaymentIntent.ID
		}
		if perr := s.st.Holds.Put(ctx, hold.ID, hold); perr != nil {
			return nil, fmt.Errorf("save hold: %w", perr)
		}
		s.logger.Info("card hold declined", "hold_id", hold.ID, "code", pe.DeclineCode)
		return &hold, fmt.Errorf("%w: %s", ErrPaymentFailed, pe.Message)
	}

	hold.IntentID = intent.ID
	applyIntent(&hold, intent)
	if err := s.st.Holds.Put(ctx, hold.ID, hold); err != nil {
		return nil, fmt.Errorf("save hold: %w", err)
	}
	s.logger.Info("card hold created", "hold_id", hold.ID, "status", hold.Status, "amount_cents", hold.AmountCents)
	return &hold, nil
}

// ConfirmHold refreshes a hold from the processor after the guest completes
// card authentication.
func (s *Service) ConfirmHold(ctx context.Context, id string) (*store.Hold, error) {
	hold, err := s.st.Holds.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hold %s: %w", id, err)
	}
	if hold.Status != store.HoldRequiresAction {
		return &hold, nil
	}
	if s.processor == nil {
		return nil, payments.ErrNotConfigured
	}
	intent, err := s.processor.GetPaymentIntent(ctx, hold.IntentID)
	if err != nil {
		return nil, fmt.Errorf("refresh hold: %w", err)
	}
	applyIntent(&hold, intent)
	hold.UpdatedAt = s.now()
	if err := s.st.Holds.Put(ctx, hold.ID, hold); err != nil {
		return nil, fmt.Errorf("save hold: %w", err)
	}
	return &hold, nil
}

// Hold returns a hold by ID.
func (s *Service) Hold(ctx context.Context, id string) (*store.Hold, error) {
	hold, err := s.st.Holds.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hold %s: %w", id, err)
	}
	return &hold, nil
}

func applyIntent(h *store.Hold, pi *payments.PaymentIntent) {
	h.ClientSecret = ""
	switch pi.Status {
	case payments.StatusRequiresCapture:
		h.Status = store.HoldAuthorized
	case payments.StatusRequiresAction, payments.StatusRequiresConfirmation, payments.StatusProcessing:
		h.Status = store.HoldRequiresAction
		h.ClientSecret = pi.ClientSecret
	case payments.StatusSucceeded:
		h.Status = store.HoldCaptured
	case payments.StatusCanceled:
		h.Status = store.HoldReleased
	default:
		h.Status = store.HoldFailed
		if pi.LastPaymentError != nil {
			h.FailureMessage = pi.LastPaymentError.Message
		}
	}
}

// releaseHold cancels an authorized hold. Holds in any other state are left alone.
func (s *Service) releaseHold(ctx context.Context, id, reason string) error {
	return s.settleHold(ctx, id, func(h *store.Hold) (*payments.PaymentIntent, error) {
		return s.processor.CancelPaymentIntent(ctx, h.IntentID, reason)
	})
}

// captureHold captures an authorized hold in full.
func (s *Service) captureHold(ctx context.Context, id string) error {
	return s.settleHold(ctx, id, func(h *store.Hold) (*payments.PaymentIntent, error) {
		return s.processor.CapturePaymentIntent(ctx, h.IntentID, 0)
	})
}

func (s *Service) settleHold(ctx context.Context, id string, fn func(*store.Hold) (*payments.PaymentIntent, error)) error {
	if id == "" {
		return nil
	}
	hold, err := s.st.Holds.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("hold %s: %w", id, err)
	}
	if hold.Status != store.HoldAuthorized {
		return nil
	}
	if s.processor == nil {
		return payments.ErrNotConfigured
	}
	intent, err := fn(&hold)
	if err != nil {
		return fmt.Errorf("settle hold %s: %w", id, err)
	}
	applyIntent(&hold, intent)
	hold.UpdatedAt = s.now()
	if err := s.st.Holds.Put(ctx, hold.ID, hold); err != nil {
		return fmt.Errorf("save hold: %w", err)
	}
	s.logger.Info("card hold settled", "hold_id", hold.ID, "status", hold.Status)
	return nil
}
