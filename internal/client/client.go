// Package client is an HTTP client for a running clubdesk server's admin
// plane and the staff endpoints clubctl drives.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/booking"
	"github.com/supperclub/clubdesk/internal/reminders"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// Client talks to one clubdesk server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client with a 10-second timeout. token is sent as a bearer
// token when set.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *Client) Health(ctx context.Context) (bool, string) {
	data, err := c.do(ctx, http.MethodGet, "/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	return true, strings.TrimSpace(string(data))
}

// ExportState returns the server's full state as JSON.
func (c *Client) ExportState(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/admin/state", nil)
}

// ImportState posts a state document to POST /admin/state.
func (c *Client) ImportState(ctx context.Context, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("state is not valid JSON")
	}
	_, err := c.do(ctx, http.MethodPost, "/admin/state", data)
	return err
}

// Reset calls POST /admin/reset. The server must run with reset enabled.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/reset", nil)
	return err
}

// AdvanceTime moves the server's clock forward and returns the new time.
func (c *Client) AdvanceTime(ctx context.Context, d time.Duration) (time.Time, error) {
	var out struct {
		Simulated time.Time `json:"simulated"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/admin/time/advance", map[string]string{"duration": d.String()}, &out)
	return out.Simulated, err
}

// Time returns the server's simulated clock.
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	var out struct {
		Simulated time.Time `json:"simulated"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/admin/time", nil, &out)
	return out.Simulated, err
}

// Slots lists open slots for a party on date (YYYY-MM-DD).
func (c *Client) Slots(ctx context.Context, date string, partySize int) ([]booking.Availability, error) {
	q := url.Values{"date": {date}, "party_size": {strconv.Itoa(partySize)}}
	var out struct {
		Data []booking.Availability `json:"data"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/availability/slots?"+q.Encode(), nil, &out)
	return out.Data, err
}

// RunReminders triggers one reminder and campaign pass.
func (c *Client) RunReminders(ctx context.Context) (reminders.TickResult, error) {
	var out reminders.TickResult
	err := c.doJSON(ctx, http.MethodPost, "/api/reminders/run", nil, &out)
	return out, err
}
