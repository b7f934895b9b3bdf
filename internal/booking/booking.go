// Package booking implements table availability, card holds and the
// reservation lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/supperclub/clubdesk/internal/config"
	"github.com/supperclub/clubdesk/internal/payments"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

var (
	// ErrSlotUnavailable is returned when no table can take the party at the requested time.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrHoldRequired is returned when a non-member books without a usable hold.
	ErrHoldRequired = errors.New("an authorized card hold is required")
	// ErrPaymentFailed is returned when the processor declines the card.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrInvalidTransition is returned for an illegal reservation status change.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", validate.ErrConflict)
)

// Event types published to the notifier.
const (
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
)

// Processor is the subset of the payment processor used for holds.
type Processor interface {
	CreateHold(ctx context.Context, p payments.HoldParams) (*payments.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*payments.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string, amountCents int64) (*payments.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id, reason string) (*payments.PaymentIntent, error)
}

// Notifier publishes domain events.
type Notifier interface {
	Notify(ctx context.Context, eventType string, data any)
}

// Config is the booking policy.
type Config struct {
	Location          *time.Location
	Opens             time.Duration // offset from local midnight
	Closes            time.Duration
	SlotInterval      time.Duration
	Seating           time.Duration
	MaxPartySize      int
	WindowDays        int
	Lead              time.Duration
	HoldPerGuestCents int64
	Currency          string
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.Booking) (Config, error) {
	loc, err := c.Location()
	if err != nil {
		return Config{}, err
	}
	opens, closes, err := c.OpenClose()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Location:          loc,
		Opens:             opens,
		Closes:            closes,
		SlotInterval:      time.Duration(c.SlotMinutes) * time.Minute,
		Seating:           time.Duration(c.SeatingMinutes) * time.Minute,
		MaxPartySize:      c.MaxPartySize,
		WindowDays:        c.WindowDays,
		Lead:              time.Duration(c.LeadMinutes) * time.Minute,
		HoldPerGuestCents: c.HoldPerGuestCents,
		Currency:          c.Currency,
	}, nil
}

// HoldAmount is the authorization taken for a party.
func (c Config) HoldAmount(partySize int) int64 {
	return int64(partySize) * c.HoldPerGuestCents
}

// Options configures a Service.
type Options struct {
	Config    Config
	Processor Processor
	Notifier  Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service is the booking service.
type Service struct {
	st        *store.Store
	cfg       Config
	processor Processor
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	// commit serialises the availability check and the write that claims a table.
	commit sync.Mutex
}

// New creates a booking service.
func New(st *store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = st.Clock.Now
	}
	if opts.Config.Location == nil {
		opts.Config.Location = time.UTC
	}
	if opts.Config.SlotInterval <= 0 {
		opts.Config.SlotInterval = 15 * time.Minute
	}
	if opts.Config.Currency == "" {
		opts.Config.Currency = "usd"
	}
	return &Service{
		st:        st,
		cfg:       opts.Config,
		processor: opts.Processor,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Config returns the booking policy.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) notify(ctx context.Context, eventType string, data any) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, eventType, data)
	}
}

func (s *Service) validateParty(partySize int) error {
	if partySize < 1 || partySize > s.cfg.MaxPartySize {
		return validate.Errorf("party_size", "must be between 1 and %d", s.cfg.MaxPartySize)
	}
	return nil
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
