// Package smstest is an in-process fake of the messaging API for tests.
// Sending to MagicInvalid or MagicUnroutable fails the way the provider's
// magic test numbers do.
package smstest

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/sms"
	pkgstore "github.com/supperclub/clubdesk/pkg/store"
)

// Credentials the fake accepts.
const (
	AccountSID = "ACclubdesk000000000000000000000000"
	AuthToken  = "auth_token_test"
	From       = "+15005550006"
)

// Magic recipient numbers.
const (
	MagicInvalid    = "+15005550001"
	MagicUnroutable = "+15005550009"
)

// Server is the fake messaging API.
type Server struct {
	*httptest.Server

	Messages *pkgstore.Store[sms.Message]
	// InFlight and MaxInFlight track concurrent send requests.
	InFlight    atomic.Int32
	MaxInFlight atomic.Int32
}

// New starts a fake; it is closed when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{Messages: pkgstore.New[sms.Message]("SM")}
	r := chi.NewRouter()
	r.Post("/2010-04-01/Accounts/{AccountSid}/Messages.json", s.createMessage)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// Client returns an sms client pointed at the fake.
func (s *Server) Client() *sms.Client {
	return sms.New(sms.Config{
		AccountSID: AccountSID,
		AuthToken:  AuthToken,
		From:       From,
		BaseURL:    s.URL,
		HTTPClient: s.Server.Client(),
	})
}

// SentTo returns the bodies of messages sent to phone, in order.
func (s *Server) SentTo(phone string) []string {
	var out []string
	for _, m := range s.Messages.List() {
		if m.To == phone {
			out = append(out, m.Body)
		}
	}
	return out
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	n := s.InFlight.Add(1)
	defer s.InFlight.Add(-1)
	for {
		max := s.MaxInFlight.Load()
		if n <= max || s.MaxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != AccountSID || pass != AuthToken || chi.URLParam(r, "AccountSid") != AccountSID {
		writeError(w, http.StatusUnauthorized, 20003, "Authenticate")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, 21601, "Unable to parse form data: "+err.Error())
		return
	}
	to, from, body := r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("Body")
	switch {
	case to == "":
		writeError(w, http.StatusBadRequest, 21604, "A 'To' phone number is required.")
		return
	case from == "" && r.PostForm.Get("MessagingServiceSid") == "":
		writeError(w, http.StatusBadRequest, 21603, "A 'From' phone number is required.")
		return
	case body == "":
		writeError(w, http.StatusBadRequest, 21602, "Message body is required.")
		return
	case to == MagicInvalid:
		writeError(w, http.StatusBadRequest, 21211, "The 'To' number "+to+" is not a valid phone number.")
		return
	case to == MagicUnroutable:
		writeError(w, http.StatusBadRequest, 21612, "The 'To' phone number is not currently reachable via SMS.")
		return
	}

	msg := sms.Message{SID: s.Messages.NextID(), To: to, From: from, Body: body, Status: "queued"}
	s.Messages.Set(msg.SID, msg)
	server.JSON(w, http.StatusCreated, msg)
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	server.JSON(w, status, sms.Error{Status: status, Code: code, Message: message})
}
