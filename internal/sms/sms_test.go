package sms_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/supperclub/clubdesk/internal/sms"
	"github.com/supperclub/clubdesk/internal/sms/smstest"
)

func TestSend(t *testing.T) {
	fake := smstest.New(t)
	c := fake.Client()

	msg, err := c.Send(context.Background(), "+15551230001", "Table for two at 7")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.SID == "" || msg.Status != "queued" || msg.From != smstest.From {
		t.Errorf("unexpected message: %+v", msg)
	}
	if got := fake.SentTo("+15551230001"); len(got) != 1 || got[0] != "Table for two at 7" {
		t.Errorf("SentTo = %v", got)
	}
}

func TestSendErrors(t *testing.T) {
	fake := smstest.New(t)
	tests := []struct {
		name   string
		client *sms.Client
		to     string
		body   string
		status int
		code   int
	}{
		{"empty body", fake.Client(), "+15551230001", "", http.StatusBadRequest, 21602},
		{"missing to", fake.Client(), "", "hi", http.StatusBadRequest, 21604},
		{"invalid number", fake.Client(), smstest.MagicInvalid, "hi", http.StatusBadRequest, 21211},
		{"unroutable", fake.Client(), smstest.MagicUnroutable, "hi", http.StatusBadRequest, 21612},
		{"bad credentials", sms.New(sms.Config{AccountSID: smstest.AccountSID, AuthToken: "nope", From: smstest.From, BaseURL: fake.URL}),
			"+15551230001", "hi", http.StatusUnauthorized, 20003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Send(context.Background(), tt.to, tt.body)
			var se *sms.Error
			if !errors.As(err, &se) {
				t.Fatalf("expected *sms.Error, got %v", err)
			}
			if se.Status != tt.status || se.Code != tt.code {
				t.Errorf("got status %d code %d, want %d %d", se.Status, se.Code, tt.status, tt.code)
			}
		})
	}
}

func TestSendWithMessagingService(t *testing.T) {
	fake := smstest.New(t)
	c := sms.New(sms.Config{
		AccountSID:          smstest.AccountSID,
		AuthToken:           smstest.AuthToken,
		MessagingServiceSID: "MG0001",
		BaseURL:             fake.URL,
	})
	if _, err := c.Send(context.Background(), "+15551230001", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

func TestValidateSignature(t *testing.T) {
	const token = "12345"
	u := "https://club.example/api/sms/inbound"
	params := url.Values{"From": {"+15551230001"}, "Body": {"see you tonight"}, "MessageSid": {"SM1"}}
	sig := sms.Sign(token, u, params)

	if !sms.ValidateSignature(token, u, params, sig) {
		t.Error("expected valid signature")
	}
	tampered := url.Values{"From": {"+15551230001"}, "Body": {"see you tomorrow"}, "MessageSid": {"SM1"}}
	if sms.ValidateSignature(token, u, tampered, sig) {
		t.Error("tampered body accepted")
	}
	if sms.ValidateSignature("other", u, params, sig) {
		t.Error("wrong token accepted")
	}
	if sms.ValidateSignature(token, u+"?x=1", params, sig) {
		t.Error("wrong url accepted")
	}
	if sms.ValidateSignature(token, u, params, "") {
		t.Error("empty signature accepted")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"(555) 123-0001", "+15551230001"},
		{"555.123.0001", "+15551230001"},
		{"1 555 123 0001", "+15551230001"},
		{"+44 20 7946 0958", "+442079460958"},
		{"  +15551230001 ", "+15551230001"},
		{"12345", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sms.NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
