package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/auth"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/waitlist"
)

// SubmitWaitlist handles POST /api/waitlist.
func (h *Handler) SubmitWaitlist(w http.ResponseWriter, r *http.Request) {
	var app waitlist.Application
	if !decode(w, r, &app) {
		return
	}
	e, err := h.svc.Waitlist.Submit(r.Context(), app)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, e)
}

// ListWaitlist handles GET /api/waitlist?status=.
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Waitlist.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// GetWaitlistEntry handles GET /api/waitlist/{id}.
func (h *Handler) GetWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Waitlist.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, e)
}

// UpdateWaitlistEntry handles PATCH /api/waitlist/{id}.
func (h *Handler) UpdateWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.Waitlist.Update(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, e)
}

// ApproveWaitlistEntry handles POST /api/waitlist/{id}/approve. The reviewer
// is the authenticated staff subject.
func (h *Handler) ApproveWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, m, err := h.svc.Waitlist.Approve(ctx, chi.URLParam(r, "id"), auth.Subject(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"entry": e, "member": m})
}

// DenyWaitlistEntry handles POST /api/waitlist/{id}/deny.
func (h *Handler) DenyWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.svc.Waitlist.Deny(ctx, chi.URLParam(r, "id"), auth.Subject(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, e)
}
