package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/messaging"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/sms"
)

// emptyTwiML acknowledges an inbound SMS without replying.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// SendMessage handles POST /api/sendMessage.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
		Body     string `json:"body"`
	}
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.svc.Messaging.SendToMember(r.Context(), req.MemberID, req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, msg)
}

// SendText handles POST /api/sendText. Per-recipient failures are reported in
// the results rather than failing the request.
func (h *Handler) SendText(w http.ResponseWriter, r *http.Request) {
	var req messaging.TextRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := h.svc.Messaging.SendText(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sent := 0
	for _, res := range results {
		if res.Error == "" {
			sent++
		}
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"data":   results,
		"sent":   sent,
		"failed": len(results) - sent,
	})
}

// ListConversations handles GET /api/messages.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Messaging.Conversations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// GetThread handles GET /api/messages/{memberID}.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Messaging.Thread(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, out)
}

// MarkRead handles POST /api/messages/{memberID}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Messaging.MarkRead(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"marked": n})
}

// ReceiveSMS handles POST /api/sms/inbound, the provider's form-encoded
// webhook. The signature is checked when an auth token is configured.
func (h *Handler) ReceiveSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "invalid form body: "+err.Error())
		return
	}
	if h.opts.SMSAuthToken != "" {
		if !sms.ValidateSignature(h.opts.SMSAuthToken, h.inboundURL(r), r.PostForm, r.Header.Get(sms.SignatureHeader)) {
			h.log.Warn("inbound sms signature rejected", "remote", r.RemoteAddr)
			server.TypedError(w, http.StatusForbidden, "authentication_error", "invalid signature")
			return
		}
	}
	_, err := h.svc.Messaging.ReceiveInbound(r.Context(), messaging.Inbound{
		From: r.PostForm.Get("From"),
		To:   r.PostForm.Get("To"),
		Body: r.PostForm.Get("Body"),
		SID:  r.PostForm.Get("MessageSid"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

func (h *Handler) inboundURL(r *http.Request) string {
	if h.opts.InboundURL != "" {
		return h.opts.InboundURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
