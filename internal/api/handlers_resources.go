package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/store"
)

// ListTables handles GET /api/tables.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Booking.Tables(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// CreateTable handles POST /api/tables.
func (h *Handler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var t store.Table
	if !decode(w, r, &t) {
		return
	}
	out, err := h.svc.Booking.CreateTable(r.Context(), t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, out)
}

// UpdateTable handles PUT /api/tables/{id}.
func (h *Handler) UpdateTable(w http.ResponseWriter, r *http.Request) {
	var t store.Table
	if !decode(w, r, &t) {
		return
	}
	out, err := h.svc.Booking.UpdateTable(r.Context(), chi.URLParam(r, "id"), t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, out)
}

// DeleteTable handles DELETE /api/tables/{id}.
func (h *Handler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Booking.DeleteTable(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// ListEvents handles GET /api/events?from=&to=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r, 31)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.Booking.Events(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// CreateEvent handles POST /api/events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var e store.Event
	if !decode(w, r, &e) {
		return
	}
	out, err := h.svc.Booking.CreateEvent(r.Context(), e)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, out)
}

// UpdateEvent handles PUT /api/events/{id}.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var e store.Event
	if !decode(w, r, &e) {
		return
	}
	out, err := h.svc.Booking.UpdateEvent(r.Context(), chi.URLParam(r, "id"), e)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, out)
}

// DeleteEvent handles DELETE /api/events/{id}.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Booking.DeleteEvent(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// ListPrivateEvents handles GET /api/private-events?from=&to=.
func (h *Handler) ListPrivateEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r, 90)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.Booking.PrivateEvents(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// CreatePrivateEvent handles POST /api/private-events.
func (h *Handler) CreatePrivateEvent(w http.ResponseWriter, r *http.Request) {
	var p store.PrivateEvent
	if !decode(w, r, &p) {
		return
	}
	out, err := h.svc.Booking.CreatePrivateEvent(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, out)
}

// UpdatePrivateEvent handles PUT /api/private-events/{id}.
func (h *Handler) UpdatePrivateEvent(w http.ResponseWriter, r *http.Request) {
	var p store.PrivateEvent
	if !decode(w, r, &p) {
		return
	}
	out, err := h.svc.Booking.UpdatePrivateEvent(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, out)
}

// DeletePrivateEvent handles DELETE /api/private-events/{id}.
func (h *Handler) DeletePrivateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Booking.DeletePrivateEvent(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
