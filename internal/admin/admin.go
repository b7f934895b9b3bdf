// Package admin provides the /admin/* control plane: state export and import,
// reset, request log inspection, the simulated clock and webhook delivery.
package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/webhook"
	pkgstore "github.com/supperclub/clubdesk/pkg/store"
)

// StateStore is implemented by the aggregate store.
type StateStore interface {
	// Snapshot returns the full state as a JSON-serializable value.
	Snapshot(ctx context.Context) (any, error)
	// LoadState replaces the collections present in a JSON body.
	LoadState(ctx context.Context, data []byte) error
	// Reset clears all state.
	Reset(ctx context.Context) error
}

// Webhooks is the subset of the webhook dispatcher the admin plane drives.
type Webhooks interface {
	FlushWebhooks(ctx context.Context) error
	Deliveries() []webhook.Delivery
	QueuedEvents() []webhook.Event
	Reset()
}

// Options configures the handler.
type Options struct {
	// EnableReset mounts POST /admin/reset; it wipes every record.
	EnableReset bool
	// Guard protects every route except /admin/health.
	Guard func(http.Handler) http.Handler
	Now   func() time.Time
}

// Handler serves the admin endpoints.
type Handler struct {
	state    StateStore
	mw       *server.Middleware
	clock    *pkgstore.Clock
	webhooks Webhooks
	opts     Options
}

// NewHandler creates an admin handler. webhooks may be nil.
func NewHandler(state StateStore, mw *server.Middleware, clock *pkgstore.Clock, webhooks Webhooks, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{state: state, mw: mw, clock: clock, webhooks: webhooks, opts: opts}
}

// Routes mounts the admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Group(func(r chi.Router) {
			if h.opts.Guard != nil {
				r.Use(h.opts.Guard)
			}
			if h.opts.EnableReset {
				r.Post("/reset", h.handleReset)
			}
			r.Get("/state", h.handleGetState)
			r.Post("/state", h.handleLoadState)
			r.Get("/requests", h.handleGetRequests)
			r.Get("/time", h.handleGetTime)
			r.Post("/time/advance", h.handleTimeAdvance)
			r.Get("/webhooks", h.handleListWebhooks)
			r.Post("/webhooks/flush", h.handleFlushWebhooks)
		})
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.state.Reset(r.Context()); err != nil {
		server.Error(w, http.StatusInternalServerError, "reset failed: "+err.Error())
		return
	}
	h.mw.ReqLog.Clear()
	h.mw.Idempotent.Reset()
	h.mw.Limiter.Reset()
	if h.webhooks != nil {
		h.webhooks.Reset()
	}
	if h.clock != nil {
		h.clock.Reset()
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.state.Snapshot(r.Context())
	if err != nil {
		server.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	server.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := h.state.LoadState(r.Context(), body); err != nil {
		server.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.mw.ReqLog.Entries())
}

func (h *Handler) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.webhooks == nil {
		server.JSON(w, http.StatusOK, map[string]any{"queued": []any{}, "deliveries": []any{}})
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"queued":     h.webhooks.QueuedEvents(),
		"deliveries": h.webhooks.Deliveries(),
	})
}

func (h *Handler) handleFlushWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.webhooks == nil {
		server.JSON(w, http.StatusOK, map[string]string{"status": "no webhooks configured"})
		return
	}
	if err := h.webhooks.FlushWebhooks(r.Context()); err != nil {
		server.Error(w, http.StatusBadGateway, "flush failed: "+err.Error())
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *Handler) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		server.Error(w, http.StatusBadRequest, "simulated clock not configured")
		return
	}
	var req struct {
		Duration string `json:"duration"` // Go duration string, e.g. "24h", "30m"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}
	if d < 0 {
		server.Error(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	h.clock.Advance(d)
	server.JSON(w, http.StatusOK, map[string]any{
		"status":    "advanced",
		"duration":  d.String(),
		"offset":    h.clock.Offset().String(),
		"simulated": h.clock.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetTime(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"real": h.opts.Now().Format(time.RFC3339)}
	if h.clock != nil {
		out["simulated"] = h.clock.Now().Format(time.RFC3339)
		out["offset"] = h.clock.Offset().String()
	}
	server.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
