package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/campaigns"
	"github.com/supperclub/clubdesk/internal/reminders"
	"github.com/supperclub/clubdesk/internal/server"
)

// ListCampaigns handles GET /api/campaigns?status=.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Campaigns.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// CreateCampaign handles POST /api/campaigns.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaigns.Input
	if !decode(w, r, &in) {
		return
	}
	c, err := h.svc.Campaigns.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, c)
}

// GetCampaign handles GET /api/campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}.
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaigns.Input
	if !decode(w, r, &in) {
		return
	}
	c, err := h.svc.Campaigns.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}.
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Campaigns.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// CampaignRecipients handles GET /api/campaigns/{id}/recipients.
func (h *Handler) CampaignRecipients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.svc.Campaigns.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.Campaigns.Recipients(ctx, *c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// SendCampaign handles POST /api/campaigns/{id}/send.
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Campaigns.Send(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, c)
}

// ListReminderTemplates handles GET /api/reminder-templates.
func (h *Handler) ListReminderTemplates(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Reminders.Templates(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// CreateReminderTemplate handles POST /api/reminder-templates.
func (h *Handler) CreateReminderTemplate(w http.ResponseWriter, r *http.Request) {
	var in reminders.Input
	if !decode(w, r, &in) {
		return
	}
	t, err := h.svc.Reminders.CreateTemplate(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, t)
}

// GetReminderTemplate handles GET /api/reminder-templates/{id}.
func (h *Handler) GetReminderTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Reminders.Template(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, t)
}

// UpdateReminderTemplate handles PUT /api/reminder-templates/{id}.
func (h *Handler) UpdateReminderTemplate(w http.ResponseWriter, r *http.Request) {
	var in reminders.Input
	if !decode(w, r, &in) {
		return
	}
	t, err := h.svc.Reminders.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, t)
}

// DeleteReminderTemplate handles DELETE /api/reminder-templates/{id}.
func (h *Handler) DeleteReminderTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Reminders.DeleteTemplate(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// PreviewReminder handles POST /api/reminder-templates/{id}/preview.
func (h *Handler) PreviewReminder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReservationID string `json:"reservation_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	body, err := h.svc.Reminders.Preview(r.Context(), chi.URLParam(r, "id"), req.ReservationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"body": body})
}

// RunReminders handles POST /api/reminders/run: one worker tick on demand.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	if h.svc.Worker == nil {
		n, err := h.svc.Reminders.RunDue(r.Context(), h.now())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		server.JSON(w, http.StatusOK, reminders.TickResult{Reminders: n})
		return
	}
	server.JSON(w, http.StatusOK, h.svc.Worker.Tick(r.Context()))
}
