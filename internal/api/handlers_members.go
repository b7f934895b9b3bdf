package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/members"
	"github.com/supperclub/clubdesk/internal/server"
)

// ListMembers handles GET /api/members?q=&status=.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.svc.Members.List(r.Context(), q.Get("q"), q.Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// CreateMember handles POST /api/members.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var in members.Input
	if !decode(w, r, &in) {
		return
	}
	m, err := h.svc.Members.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, m)
}

// GetMember handles GET /api/members/{id}. The response carries the member's
// cards and house-account balance.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), chi.URLParam(r, "id")
	m, err := h.svc.Members.Get(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cards, err := h.svc.Members.PaymentMethods(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.svc.Ledger.Balance(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"member":          m,
		"payment_methods": cards,
		"balance_cents":   balance,
	})
}

// UpdateMember handles PUT /api/members/{id}.
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	var in members.Input
	if !decode(w, r, &in) {
		return
	}
	m, err := h.svc.Members.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, m)
}

// DeleteMember handles DELETE /api/members/{id}.
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Members.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// SetupCard handles POST /api/members/{id}/setup-card.
func (h *Handler) SetupCard(w http.ResponseWriter, r *http.Request) {
	setup, err := h.svc.Members.SetupCard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, setup)
}

// ListPaymentMethods handles GET /api/members/{id}/payment-methods.
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Members.PaymentMethods(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// AddPaymentMethod handles POST /api/members/{id}/payment-methods.
func (h *Handler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentMethod string `json:"payment_method"`
	}
	if !decode(w, r, &req) {
		return
	}
	pm, err := h.svc.Members.AddPaymentMethod(r.Context(), chi.URLParam(r, "id"), req.PaymentMethod)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, pm)
}

// RemovePaymentMethod handles DELETE /api/members/{id}/payment-methods/{pmID}.
func (h *Handler) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	pmID := chi.URLParam(r, "pmID")
	if err := h.svc.Members.RemovePaymentMethod(r.Context(), chi.URLParam(r, "id"), pmID); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": pmID, "deleted": true})
}

// SetDefaultPaymentMethod handles POST /api/members/{id}/payment-methods/{pmID}/default.
func (h *Handler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	pm, err := h.svc.Members.SetDefaultPaymentMethod(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pmID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, pm)
}

// ListMemberTransactions handles GET /api/members/{id}/transactions.
func (h *Handler) ListMemberTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), chi.URLParam(r, "id")
	if _, err := h.svc.Members.Get(ctx, id); err != nil {
		h.fail(w, r, err)
		return
	}
	txs, err := h.svc.Ledger.Transactions(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.svc.Ledger.Balance(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"data": txs, "count": len(txs), "balance_cents": balance})
}
