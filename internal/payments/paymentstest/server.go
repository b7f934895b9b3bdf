// Package paymentstest is an in-process fake of the payment processor API for
// tests. It understands the processor's test payment method IDs:
//
//	pm_card_visa, pm_card_mastercard, pm_card_amex   authorize
//	pm_card_authenticationRequired                    requires_action until Authenticate
//	pm_card_chargeDeclined                            card_declined
//	pm_card_insufficientFunds                         insufficient_funds
package paymentstest

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/payments"
	"github.com/supperclub/clubdesk/internal/server"
	pkgstore "github.com/supperclub/clubdesk/pkg/store"
)

// APIKey is the secret key the fake accepts.
const APIKey = "sk_test_clubdesk"

type card struct {
	brand, last4 string
	decline      string // decline code, if the card is declined
	needs3DS     bool
}

var testCards = map[string]card{
	"pm_card_visa":                   {brand: "visa", last4: "4242"},
	"pm_card_mastercard":             {brand: "mastercard", last4: "4444"},
	"pm_card_amex":                   {brand: "amex", last4: "0005"},
	"pm_card_authenticationRequired": {brand: "visa", last4: "3184", needs3DS: true},
	"pm_card_chargeDeclined":         {brand: "visa", last4: "0002", decline: "generic_decline"},
	"pm_card_insufficientFunds":      {brand: "visa", last4: "9995", decline: "insufficient_funds"},
}

// Server is the fake processor.
type Server struct {
	*httptest.Server

	Customers      *pkgstore.Store[payments.Customer]
	SetupIntents   *pkgstore.Store[payments.SetupIntent]
	PaymentMethods *pkgstore.Store[payments.PaymentMethod]
	Intents        *pkgstore.Store[payments.PaymentIntent]
	// Keys records the Idempotency-Key of every create-intent request.
	Keys *pkgstore.Store[string]

	log *slog.Logger
}

// New starts a fake processor; it is closed when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		Customers:      pkgstore.New[payments.Customer]("cus"),
		SetupIntents:   pkgstore.New[payments.SetupIntent]("seti"),
		PaymentMethods: pkgstore.New[payments.PaymentMethod]("pm"),
		Intents:        pkgstore.New[payments.PaymentIntent]("pi"),
		Keys:           pkgstore.New[string]("key"),
	}
	s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := server.NewMiddleware(server.Options{}, s.log)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Use(mw.Idempotency)
		r.Post("/customers", s.createCustomer)
		r.Post("/setup_intents", s.createSetupIntent)
		r.Get("/payment_methods/{id}", s.getPaymentMethod)
		r.Post("/payment_methods/{id}/attach", s.attachPaymentMethod)
		r.Post("/payment_methods/{id}/detach", s.detachPaymentMethod)
		r.Post("/payment_intents", s.createIntent)
		r.Get("/payment_intents/{id}", s.getIntent)
		r.Post("/payment_intents/{id}/capture", s.captureIntent)
		r.Post("/payment_intents/{id}/cancel", s.cancelIntent)
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// Client returns a payments client pointed at the fake.
func (s *Server) Client() *payments.Client {
	return payments.New(payments.Config{APIKey: APIKey, BaseURL: s.URL, HTTPClient: s.Server.Client(), Logger: s.log})
}

// Authenticate completes the customer authentication step of an intent
// waiting in requires_action, moving it to requires_capture.
func (s *Server) Authenticate(intentID string) bool {
	pi, ok := s.Intents.Get(intentID)
	if !ok || pi.Status != payments.StatusRequiresAction {
		return false
	}
	pi.Status = payments.StatusRequiresCapture
	pi.AmountCapturable = pi.Amount
	s.Intents.Set(pi.ID, pi)
	return true
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+APIKey {
			writeError(w, http.StatusUnauthorized, &payments.Error{
				Type: "invalid_request_error", Code: "api_key_invalid", Message: "Invalid API Key provided.",
			})
			return
		}
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, &payments.Error{Type: "invalid_request_error", Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request) {
	c := payments.Customer{
		ID:    s.Customers.NextID(),
		Email: r.PostForm.Get("email"),
		Name:  r.PostForm.Get("name"),
		Phone: r.PostForm.Get("phone"),
	}
	s.Customers.Set(c.ID, c)
	server.JSON(w, http.StatusOK, c)
}

func (s *Server) createSetupIntent(w http.ResponseWriter, r *http.Request) {
	cus := r.PostForm.Get("customer")
	if _, ok := s.Customers.Get(cus); !ok {
		writeError(w, http.StatusBadRequest, missing("customer", cus))
		return
	}
	id := s.SetupIntents.NextID()
	si := payments.SetupIntent{ID: id, Customer: cus, ClientSecret: id + "_secret_test", Status: payments.StatusRequiresPaymentMethod}
	s.SetupIntents.Set(id, si)
	server.JSON(w, http.StatusOK, si)
}

func (s *Server) paymentMethod(id string) (payments.PaymentMethod, bool) {
	if pm, ok := s.PaymentMethods.Get(id); ok {
		return pm, true
	}
	c, ok := testCards[id]
	if !ok {
		return payments.PaymentMethod{}, false
	}
	pm := payments.PaymentMethod{ID: id, Card: payments.Card{Brand: c.brand, Last4: c.last4, ExpMonth: 12, ExpYear: 2030}}
	s.PaymentMethods.Set(id, pm)
	return pm, true
}

func (s *Server) getPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pm, ok := s.paymentMethod(id)
	if !ok {
		writeError(w, http.StatusNotFound, missing("payment_method", id))
		return
	}
	server.JSON(w, http.StatusOK, pm)
}

func (s *Server) attachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pm, ok := s.paymentMethod(id)
	if !ok {
		writeError(w, http.StatusNotFound, missing("payment_method", id))
		return
	}
	cus := r.PostForm.Get("customer")
	if _, ok := s.Customers.Get(cus); !ok {
		writeError(w, http.StatusBadRequest, missing("customer", cus))
		return
	}
	if c := testCards[id]; c.decline != "" {
		writeError(w, http.StatusPaymentRequired, cardError(c.decline, nil))
		return
	}
	pm.Customer = cus
	s.PaymentMethods.Set(id, pm)
	server.JSON(w, http.StatusOK, pm)
}

func (s *Server) detachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pm, ok := s.PaymentMethods.Get(id)
	if !ok || pm.Customer == "" {
		writeError(w, http.StatusBadRequest, &payments.Error{
			Type: "invalid_request_error", Message: "The payment method you provided is not attached to a customer.",
		})
		return
	}
	pm.Customer = ""
	s.PaymentMethods.Set(id, pm)
	server.JSON(w, http.StatusOK, pm)
}

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request) {
	f := r.PostForm
	amount, err := strconv.ParseInt(f.Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, &payments.Error{Type: "invalid_request_error", Param: "amount", Message: "Invalid positive integer"})
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		s.Keys.Set(s.Keys.NextID(), key)
	}
	pmID := f.Get("payment_method")
	if _, ok := s.paymentMethod(pmID); !ok {
		writeError(w, http.StatusBadRequest, missing("payment_method", pmID))
		return
	}
	c := testCards[pmID]

	id := s.Intents.NextID()
	pi := payments.PaymentIntent{
		ID:            id,
		Amount:        amount,
		Currency:      strings.ToLower(f.Get("currency")),
		CaptureMethod: f.Get("capture_method"),
		ClientSecret:  id + "_secret_test",
		Customer:      f.Get("customer"),
		PaymentMethod: pmID,
		Description:   f.Get("description"),
	}
	switch {
	case c.decline != "":
		pi.Status = payments.StatusRequiresPaymentMethod
		pi.LastPaymentError = cardError(c.decline, nil)
		s.Intents.Set(id, pi)
		writeError(w, http.StatusPaymentRequired, cardError(c.decline, &pi))
		return
	case c.needs3DS:
		pi.Status = payments.StatusRequiresAction
	case pi.CaptureMethod == "manual":
		pi.Status = payments.StatusRequiresCapture
		pi.AmountCapturable = amount
	default:
		pi.Status = payments.StatusSucceeded
		pi.AmountReceived = amount
	}
	s.Intents.Set(id, pi)
	server.JSON(w, http.StatusOK, pi)
}

func (s *Server) getIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pi, ok := s.Intents.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, missing("payment_intent", id))
		return
	}
	server.JSON(w, http.StatusOK, pi)
}

func (s *Server) captureIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pi, ok := s.Intents.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, missing("payment_intent", id))
		return
	}
	if pi.Status != payments.StatusRequiresCapture {
		writeError(w, http.StatusBadRequest, unexpectedState(pi))
		return
	}
	amount := pi.AmountCapturable
	if v := r.PostForm.Get("amount_to_capture"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > pi.AmountCapturable {
			writeError(w, http.StatusBadRequest, &payments.Error{Type: "invalid_request_error", Param: "amount_to_capture", Message: "Invalid amount_to_capture"})
			return
		}
		amount = n
	}
	pi.Status = payments.StatusSucceeded
	pi.AmountReceived = amount
	pi.AmountCapturable = 0
	s.Intents.Set(id, pi)
	server.JSON(w, http.StatusOK, pi)
}

func (s *Server) cancelIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pi, ok := s.Intents.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, missing("payment_intent", id))
		return
	}
	switch pi.Status {
	case payments.StatusSucceeded, payments.StatusCanceled:
		writeError(w, http.StatusBadRequest, unexpectedState(pi))
		return
	}
	pi.Status = payments.StatusCanceled
	pi.AmountCapturable = 0
	s.Intents.Set(id, pi)
	server.JSON(w, http.StatusOK, pi)
}

func cardError(decline string, pi *payments.PaymentIntent) *payments.Error {
	msg := "Your card was declined."
	if decline == "insufficient_funds" {
		msg = "Your card has insufficient funds."
	}
	return &payments.Error{Type: "card_error", Code: "card_declined", DeclineCode: decline, Message: msg, PaymentIntent: pi}
}

func missing(kind, id string) *payments.Error {
	return &payments.Error{Type: "invalid_request_error", Code: "resource_missing", Message: fmt.Sprintf("No such %s: '%s'", kind, id)}
}

func unexpectedState(pi payments.PaymentIntent) *payments.Error {
	return &payments.Error{
		Type:    "invalid_request_error",
		Code:    "payment_intent_unexpected_state",
		Message: fmt.Sprintf("This PaymentIntent's status is %s.", pi.Status),
	}
}

func writeError(w http.ResponseWriter, status int, e *payments.Error) {
	server.JSON(w, status, map[string]any{"error": e})
}
