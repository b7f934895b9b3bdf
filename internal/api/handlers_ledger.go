package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/booking"
	"github.com/supperclub/clubdesk/internal/ledger"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/validate"
)

// ListTransactions handles GET /api/transactions?member_id=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Ledger.Transactions(r.Context(), r.URL.Query().Get("member_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// RecordTransaction handles POST /api/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var in ledger.TransactionInput
	if !decode(w, r, &in) {
		return
	}
	in.ExternalRef = ""
	t, err := h.svc.Ledger.Record(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, t)
}

// GetTransaction handles GET /api/transactions/{id}. The response includes
// the transaction's attachments.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), chi.URLParam(r, "id")
	t, err := h.svc.Ledger.Transaction(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	atts, err := h.svc.Ledger.Attachments(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"transaction": t, "attachments": atts})
}

// ListAttachments handles GET /api/transaction-attachments/{transactionID}.
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Ledger.Attachments(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// UploadAttachment handles POST /api/transaction-attachments/{transactionID},
// a multipart form with the file under "file".
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	limit := h.svc.Ledger.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, r, validate.Errorf("file", "file exceeds %d bytes", limit))
			return
		}
		badRequest(w, "multipart form with a file field is required")
		return
	}
	defer file.Close()

	a, err := h.svc.Ledger.Attach(r.Context(), ledger.Upload{
		TransactionID: chi.URLParam(r, "transactionID"),
		FileName:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Body:          file,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, a)
}

// DownloadAttachment handles GET /api/transaction-attachments/file/{id}.
func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	a, rc, err := h.svc.Ledger.OpenAttachment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	w.Header().Set("ETag", `"`+a.SHA256+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("attachment download interrupted", "attachment_id", a.ID, "err", err)
	}
}

// DeleteAttachment handles DELETE /api/transaction-attachments/file/{id}.
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Ledger.DeleteAttachment(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// SyncPOS handles POST /api/toast-sync. business_date defaults to yesterday
// in the restaurant's timezone.
func (h *Handler) SyncPOS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessDate string `json:"business_date"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	loc := h.svc.Booking.Config().Location
	var day time.Time
	if req.BusinessDate == "" {
		now := h.now().In(loc)
		day = time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, loc)
	} else {
		var err error
		if day, err = time.ParseInLocation(booking.DateLayout, req.BusinessDate, loc); err != nil {
			h.fail(w, r, validate.Errorf("business_date", "must be YYYY-MM-DD"))
			return
		}
	}
	res, err := h.svc.Ledger.SyncPOS(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, res)
}

// ListHouseAccounts handles GET /api/toast-house-accounts.
func (h *Handler) ListHouseAccounts(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Ledger.HouseAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}
