// Package sms is a client for the Twilio-compatible messaging API. Messages
// are sent form-encoded with HTTP basic auth; inbound webhooks are
// authenticated with the X-Twilio-Signature HMAC-SHA1 scheme.
package sms

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"
)

// SignatureHeader carries the inbound webhook signature.
const SignatureHeader = "X-Twilio-Signature"

// Error is a provider error response.
type Error struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("sms: %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Message is the provider's view of a sent message.
type Message struct {
	SID          string `json:"sid"`
	To           string `json:"to"`
	From         string `json:"from"`
	Body         string `json:"body"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Config configures a Client.
type Config struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
	BaseURL             string
	HTTPClient          *http.Client
}

// Client sends SMS.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: cfg.HTTPClient}
}

// From returns the sender number, which is empty when a messaging service is used.
func (c *Client) From() string {
	return c.cfg.From
}

// Send sends body to the E.164 number to.
func (c *Client) Send(ctx context.Context, to, body string) (*Message, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if c.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", c.cfg.MessagingServiceSID)
	} else {
		form.Set("From", c.cfg.From)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		e := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(data, e); err != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(data))
		}
		return nil, e
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// Sign computes the signature the provider sends for a webhook POST to
// fullURL with the given form parameters.
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature reports whether signature matches the webhook request.
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(authToken, fullURL, params)))
}

// NormalizePhone returns phone in E.164 form. Ten-digit numbers are assumed
// to be North American. It returns "" when phone has too few digits.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	plus := strings.HasPrefix(phone, "+")
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)

	switch {
	case len(digits) < 10 || len(digits) > 15:
		return ""
	case plus:
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}
