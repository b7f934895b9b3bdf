// Package payments is a client for the Stripe-compatible payment processor
// used for card-on-file setup and reservation holds. It drives stripe-go
// against a configurable base URL and returns processor failures as *Error.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/setupintent"
)

// Payment intent statuses that matter to holds.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusRequiresAction        = "requires_action"
	StatusProcessing            = "processing"
	StatusRequiresCapture       = "requires_capture"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
)

// ErrNotConfigured is returned by callers that need a processor when none is
// configured.
var ErrNotConfigured = errors.New("payment processor not configured")

// Error is a processor error envelope.
type Error struct {
	HTTPStatus    int            `json:"-"`
	Type          string         `json:"type"`
	Code          string         `json:"code,omitempty"`
	DeclineCode   string         `json:"decline_code,omitempty"`
	Message       string         `json:"message"`
	Param         string         `json:"param,omitempty"`
	PaymentIntent *PaymentIntent `json:"payment_intent,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payments: %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("payments: %s: %s", e.Type, e.Message)
}

// IsCardError reports whether err is a declined or otherwise unusable card.
func IsCardError(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Type == "card_error"
}

// Customer is a processor customer.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// SetupIntent collects a card for later use.
type SetupIntent struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// Card holds the display details of a card payment method.
type Card struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// PaymentMethod is a stored card.
type PaymentMethod struct {
	ID       string `json:"id"`
	Customer string `json:"customer,omitempty"`
	Card     Card   `json:"card"`
}

// PaymentIntent is a charge or authorization.
type PaymentIntent struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	AmountCapturable int64  `json:"amount_capturable"`
	AmountReceived   int64  `json:"amount_received"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	CaptureMethod    string `json:"capture_method"`
	ClientSecret     string `json:"client_secret,omitempty"`
	Customer         string `json:"customer,omitempty"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	Description      string `json:"description,omitempty"`
	LastPaymentError *Error `json:"last_payment_error,omitempty"`
}

// Config configures a Client. An empty BaseURL uses the live Stripe API.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the processor API.
type Client struct {
	intents   paymentintent.Client
	customers customer.Client
	setups    setupintent.Client
	methods   paymentmethod.Client
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     leveledLogger{cfg.Logger.With("component", "payments")},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	b := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	return &Client{
		intents:   paymentintent.Client{B: b, Key: cfg.APIKey},
		customers: customer.Client{B: b, Key: cfg.APIKey},
		setups:    setupintent.Client{B: b, Key: cfg.APIKey},
		methods:   paymentmethod.Client{B: b, Key: cfg.APIKey},
	}
}

// CustomerParams are the fields for a new customer.
type CustomerParams struct {
	Email    string
	Name     string
	Phone    string
	MemberID string
}

// CreateCustomer creates a customer.
func (c *Client) CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: optional(p.Email),
		Name:  optional(p.Name),
		Phone: optional(p.Phone),
	}
	params.Context = ctx
	if p.MemberID != "" {
		params.AddMetadata("member_id", p.MemberID)
	}
	cus, err := c.customers.New(params)
	if err != nil {
		return nil, wrap(err)
	}
	return &Customer{ID: cus.ID, Email: cus.Email, Name: cus.Name, Phone: cus.Phone}, nil
}

// CreateSetupIntent starts card collection for customerID.
func (c *Client) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		Usage:              stripe.String(string(stripe.SetupIntentUsageOffSession)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	si, err := c.setups.New(params)
	if err != nil {
		return nil, wrap(err)
	}
	return &SetupIntent{
		ID:           si.ID,
		Customer:     customerIDOf(si.Customer),
		ClientSecret: si.ClientSecret,
		Status:       string(si.Status),
	}, nil
}

// GetPaymentMethod fetches a payment method.
func (c *Client) GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	pm, err := c.methods.Get(id, params)
	if err != nil {
		return nil, wrap(err)
	}
	return paymentMethod(pm), nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (c *Client) AttachPaymentMethod(ctx context.Context, id, customerID string) (*PaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	pm, err := c.methods.Attach(id, params)
	if err != nil {
		return nil, wrap(err)
	}
	return paymentMethod(pm), nil
}

// DetachPaymentMethod removes a payment method from its customer.
func (c *Client) DetachPaymentMethod(ctx context.Context, id string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	_, err := c.methods.Detach(id, params)
	return wrap(err)
}

// HoldParams describe a manual-capture authorization.
type HoldParams struct {
	AmountCents    int64
	Currency       string
	PaymentMethod  string
	Customer       string
	ReceiptEmail   string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateHold creates and confirms a manual-capture payment intent. A declined
// card returns *Error with the failed intent attached when the processor sent one.
func (c *Client) CreateHold(ctx context.Context, p HoldParams) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.AmountCents),
		Currency:           stripe.String(p.Currency),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		PaymentMethod:      optional(p.PaymentMethod),
		Customer:           optional(p.Customer),
		ReceiptEmail:       optional(p.ReceiptEmail),
		Description:        optional(p.Description),
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := c.intents.New(params)
	if err != nil {
		return nil, wrap(err)
	}
	return paymentIntent(pi), nil
}

// GetPaymentIntent fetches a payment intent.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.intents.Get(id, params)
	if err != nil {
		return nil, wrap(err)
	}
	return paymentIntent(pi), nil
}

// CapturePaymentIntent captures an authorized intent. amountCents 0 captures the full amount.
func (c *Client) CapturePaymentIntent(ctx context.Context, id string, amountCents int64) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if amountCents > 0 {
		params.AmountToCapture = stripe.Int64(amountCents)
	}
	pi, err := c.intents.Capture(id, params)
	if err != nil {
		return nil, wrap(err)
	}
	return paymentIntent(pi), nil
}

// CancelPaymentIntent releases an uncaptured intent.
func (c *Client) CancelPaymentIntent(ctx context.Context, id, reason string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentCancelParams{CancellationReason: optional(reason)}
	params.Context = ctx
	pi, err := c.intents.Cancel(id, params)
	if err != nil {
		return nil, wrap(err)
	}
	return paymentIntent(pi), nil
}

// wrap turns a stripe-go error into *Error. Transport failures pass through.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("payments: %w", err)
	}
	return fromStripeError(se)
}

func fromStripeError(se *stripe.Error) *Error {
	e := &Error{
		HTTPStatus:  se.HTTPStatusCode,
		Type:        string(se.Type),
		Code:        string(se.Code),
		DeclineCode: string(se.DeclineCode),
		Message:     se.Msg,
		Param:       se.Param,
	}
	if se.PaymentIntent != nil {
		e.PaymentIntent = paymentIntent(se.PaymentIntent)
	}
	return e
}

func paymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:               pi.ID,
		Amount:           pi.Amount,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
		Currency:         string(pi.Currency),
		Status:           string(pi.Status),
		CaptureMethod:    string(pi.CaptureMethod),
		ClientSecret:     pi.ClientSecret,
		Customer:         customerIDOf(pi.Customer),
		Description:      pi.Description,
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethod = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = fromStripeError(pi.LastPaymentError)
	}
	return out
}

func paymentMethod(pm *stripe.PaymentMethod) *PaymentMethod {
	out := &PaymentMethod{ID: pm.ID, Customer: customerIDOf(pm.Customer)}
	if pm.Card != nil {
		out.Card = Card{
			Brand:    string(pm.Card.Brand),
			Last4:    pm.Card.Last4,
			ExpMonth: int(pm.Card.ExpMonth),
			ExpYear:  int(pm.Card.ExpYear),
		}
	}
	return out
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return stripe.String(v)
}

// leveledLogger routes stripe-go's request logging into slog.
type leveledLogger struct{ log *slog.Logger }

func (l leveledLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...any)  { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
