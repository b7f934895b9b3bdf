// Package api implements the clubdesk REST handlers: the public booking and
// waitlist endpoints, the SMS webhook, and the staff back office.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/auth"
	"github.com/supperclub/clubdesk/internal/booking"
	"github.com/supperclub/clubdesk/internal/campaigns"
	"github.com/supperclub/clubdesk/internal/ledger"
	"github.com/supperclub/clubdesk/internal/members"
	"github.com/supperclub/clubdesk/internal/messaging"
	"github.com/supperclub/clubdesk/internal/reminders"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/waitlist"
)

// Services are the domain services the handlers call.
type Services struct {
	Booking   *booking.Service
	Members   *members.Service
	Messaging *messaging.Service
	Campaigns *campaigns.Service
	Reminders *reminders.Service
	Worker    *reminders.Worker
	Waitlist  *waitlist.Service
	Ledger    *ledger.Service
}

// Options configures the handler.
type Options struct {
	Auth       *auth.Manager
	Middleware *server.Middleware
	// SMSAuthToken verifies inbound SMS webhook signatures; empty skips the check.
	SMSAuthToken string
	// InboundURL is the public URL of /api/sms/inbound as the provider signs it.
	// When empty the request URL is used.
	InboundURL string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Handler holds all API handler state.
type Handler struct {
	svc  Services
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{svc: svc, opts: opts, log: opts.Logger, now: opts.Now}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	mw := h.opts.Middleware
	r.Route("/api", func(r chi.Router) {
		// Public booking and application endpoints.
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit)
			r.Use(h.opts.Auth.Optional)
			r.Get("/availability", h.CheckAvailability)
			r.Get("/availability/slots", h.ListSlots)
			r.Post("/check-membership", h.CheckMembership)
			r.With(mw.Idempotency).Post("/create-hold", h.CreateHold)
			r.Post("/holds/{id}/confirm", h.ConfirmHold)
			r.With(mw.Idempotency).Post("/reservations", h.CreateReservation)
			r.Post("/waitlist", h.SubmitWaitlist)
		})

		r.Post("/sms/inbound", h.ReceiveSMS)

		r.Group(func(r chi.Router) {
			r.Use(h.opts.Auth.Require(auth.RoleStaff))
			h.staffRoutes(r)
		})
	})
}

func (h *Handler) staffRoutes(r chi.Router) {
	r.Get("/tables", h.ListTables)
	r.Post("/tables", h.CreateTable)
	r.Put("/tables/{id}", h.UpdateTable)
	r.Delete("/tables/{id}", h.DeleteTable)

	r.Get("/events", h.ListEvents)
	r.Post("/events", h.CreateEvent)
	r.Put("/events/{id}", h.UpdateEvent)
	r.Delete("/events/{id}", h.DeleteEvent)

	r.Get("/private-events", h.ListPrivateEvents)
	r.Post("/private-events", h.CreatePrivateEvent)
	r.Put("/private-events/{id}", h.UpdatePrivateEvent)
	r.Delete("/private-events/{id}", h.DeletePrivateEvent)

	r.Get("/reservations", h.ListReservations)
	r.Get("/reservations/{id}", h.GetReservation)
	r.Patch("/reservations/{id}", h.UpdateReservation)
	r.Post("/reservations/{id}/cancel", h.reservationAction(h.svc.Booking.Cancel))
	r.Post("/reservations/{id}/seat", h.reservationAction(h.svc.Booking.Seat))
	r.Post("/reservations/{id}/complete", h.reservationAction(h.svc.Booking.Complete))
	r.Post("/reservations/{id}/no-show", h.reservationAction(h.svc.Booking.MarkNoShow))
	r.Get("/holds/{id}", h.GetHold)
	r.Get("/calendar", h.GetCalendar)

	r.Get("/members", h.ListMembers)
	r.Post("/members", h.CreateMember)
	r.Get("/members/{id}", h.GetMember)
	r.Put("/members/{id}", h.UpdateMember)
	r.Delete("/members/{id}", h.DeleteMember)
	r.Post("/members/{id}/setup-card", h.SetupCard)
	r.Get("/members/{id}/payment-methods", h.ListPaymentMethods)
	r.Post("/members/{id}/payment-methods", h.AddPaymentMethod)
	r.Delete("/members/{id}/payment-methods/{pmID}", h.RemovePaymentMethod)
	r.Post("/members/{id}/payment-methods/{pmID}/default", h.SetDefaultPaymentMethod)
	r.Get("/members/{id}/transactions", h.ListMemberTransactions)

	r.Post("/sendMessage", h.SendMessage)
	r.Post("/sendText", h.SendText)
	r.Get("/messages", h.ListConversations)
	r.Get("/messages/{memberID}", h.GetThread)
	r.Post("/messages/{memberID}/read", h.MarkRead)

	r.Get("/campaigns", h.ListCampaigns)
	r.Post("/campaigns", h.CreateCampaign)
	r.Get("/campaigns/{id}", h.GetCampaign)
	r.Put("/campaigns/{id}", h.UpdateCampaign)
	r.Delete("/campaigns/{id}", h.DeleteCampaign)
	r.Get("/campaigns/{id}/recipients", h.CampaignRecipients)
	r.Post("/campaigns/{id}/send", h.SendCampaign)

	r.Get("/reminder-templates", h.ListReminderTemplates)
	r.Post("/reminder-templates", h.CreateReminderTemplate)
	r.Get("/reminder-templates/{id}", h.GetReminderTemplate)
	r.Put("/reminder-templates/{id}", h.UpdateReminderTemplate)
	r.Delete("/reminder-templates/{id}", h.DeleteReminderTemplate)
	r.Post("/reminder-templates/{id}/preview", h.PreviewReminder)
	r.Post("/reminders/run", h.RunReminders)

	r.Get("/waitlist", h.ListWaitlist)
	r.Get("/waitlist/{id}", h.GetWaitlistEntry)
	r.Patch("/waitlist/{id}", h.UpdateWaitlistEntry)
	r.Post("/waitlist/{id}/approve", h.ApproveWaitlistEntry)
	r.Post("/waitlist/{id}/deny", h.DenyWaitlistEntry)

	r.Get("/transactions", h.ListTransactions)
	r.Post("/transactions", h.RecordTransaction)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Get("/transaction-attachments/{transactionID}", h.ListAttachments)
	r.Post("/transaction-attachments/{transactionID}", h.UploadAttachment)
	r.Get("/transaction-attachments/file/{id}", h.DownloadAttachment)
	r.Delete("/transaction-attachments/file/{id}", h.DeleteAttachment)
	r.Post("/toast-sync", h.SyncPOS)
	r.Get("/toast-house-accounts", h.ListHouseAccounts)
}

// list wraps a collection response.
func list[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	server.JSON(w, http.StatusOK, map[string]any{"data": items, "count": len(items)})
}
