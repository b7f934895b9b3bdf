// Package webhook delivers signed outbound event notifications
// (reservation.confirmed, reservation.cancelled, waitlist.submitted) with retries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Event types published by clubdesk.
const (
	ReservationConfirmed = "reservation.confirmed"
	ReservationCancelled = "reservation.cancelled"
	WaitlistSubmitted    = "waitlist.submitted"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" on every delivery.
const SignatureHeader = "Clubdesk-Signature"

// Signer signs webhook payloads.
type Signer interface {
	// Sign returns headers to add to the webhook request for signature verification.
	Sign(payload []byte, secret string, at time.Time) map[string]string
}

// HMACSigner signs "<unix>.<payload>" with HMAC-SHA256.
type HMACSigner struct{}

// Sign implements Signer.
func (HMACSigner) Sign(payload []byte, secret string, at time.Time) map[string]string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return map[string]string{
		SignatureHeader: "t=" + ts + ",v1=" + computeHMAC(ts, payload, secret),
	}
}

func computeHMAC(ts string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a SignatureHeader value against payload. Receivers use it to
// authenticate deliveries; tolerance bounds the accepted clock skew.
func Verify(header string, payload []byte, secret string, now time.Time, tolerance time.Duration) bool {
	var ts, sig string
	for _, part := range bytes.Split([]byte(header), []byte(",")) {
		k, v, ok := bytes.Cut(part, []byte("="))
		if !ok {
			continue
		}
		switch string(k) {
		case "t":
			ts = string(v)
		case "v1":
			sig = string(v)
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return false
	}
	if d := now.Sub(time.Unix(unix, 0)); d > tolerance || d < -tolerance {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(computeHMAC(ts, payload, secret)))
}

// Event is a webhook event to be dispatched.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records a webhook delivery attempt.
type Delivery struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config configures the dispatcher.
type Config struct {
	URL         string
	Secret      string
	Signer      Signer
	Logger      *slog.Logger
	MaxRetries  int
	RetryDelay  time.Duration
	AutoDeliver bool // deliver asynchronously as soon as an event is published
	Client      *http.Client
	Now         func() time.Time
}

// Dispatcher queues and delivers events.
type Dispatcher struct {
	mu          sync.RWMutex
	url         string
	secret      string
	signer      Signer
	logger      *slog.Logger
	queue       []Event
	deliveries  []Delivery
	maxRetries  int
	retryDelay  time.Duration
	client      *http.Client
	now         func() time.Time
	counter     int
	autoDeliver bool
	wg          sync.WaitGroup
}

const maxDeliveries = 500

// NewDispatcher creates a dispatcher with defaults for unset fields.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Signer == nil {
		cfg.Signer = HMACSigner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		url:         cfg.URL,
		secret:      cfg.Secret,
		signer:      cfg.Signer,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		client:      cfg.Client,
		now:         cfg.Now,
		autoDeliver: cfg.AutoDeliver,
	}
}

// SetURL updates the delivery URL.
func (d *Dispatcher) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Notify publishes an event. With AutoDeliver it is sent in the background,
// otherwise it waits in the queue for Flush. Nothing is queued when no URL is set.
func (d *Dispatcher) Notify(ctx context.Context, eventType string, data any) {
	d.mu.Lock()
	if d.url == "" {
		d.mu.Unlock()
		d.logger.Debug("no webhook URL configured, dropping event", "type", eventType)
		return
	}
	d.counter++
	evt := Event{
		ID:        fmt.Sprintf("whk_%06d", d.counter),
		Type:      eventType,
		Data:      data,
		CreatedAt: d.now().UTC(),
	}
	auto := d.autoDeliver
	if !auto {
		d.queue = append(d.queue, evt)
	}
	d.mu.Unlock()

	if auto {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.deliver(context.WithoutCancel(ctx), evt); err != nil {
				d.logger.Warn("webhook delivery failed", "event_id", evt.ID, "type", evt.Type, "err", err)
			}
		}()
	}
}

// Wait blocks until background deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Flush delivers all queued events synchronously and returns the last error.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	events := d.queue
	d.queue = nil
	d.mu.Unlock()

	var lastErr error
	for _, evt := range events {
		if err := d.deliver(ctx, evt); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FlushWebhooks implements admin.WebhookFlusher.
func (d *Dispatcher) FlushWebhooks(ctx context.Context) error {
	return d.Flush(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) error {
	d.mu.RLock()
	url, secret, signer := d.url, d.secret, d.signer
	d.mu.RUnlock()

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		delivery := Delivery{
			EventID:   evt.ID,
			EventType: evt.Type,
			URL:       url,
			Attempt:   attempt,
			Timestamp: d.now().UTC(),
		}
		status, err := d.post(ctx, url, payload, secret, signer)
		delivery.StatusCode = status
		if err == nil {
			d.record(delivery)
			return nil
		}
		delivery.Error = err.Error()
		lastErr = err
		d.record(delivery)

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte, secret string, signer Signer) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		for k, v := range signer.Sign(payload, secret, d.now()) {
			req.Header.Set(k, v)
		}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook delivery failed: status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(delivery Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.deliveries) >= maxDeliveries {
		d.deliveries = d.deliveries[1:]
	}
	d.deliveries = append(d.deliveries, delivery)
}

// Deliveries returns all recorded delivery attempts.
func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

// QueuedEvents returns queued but undelivered events.
func (d *Dispatcher) QueuedEvents() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Event, len(d.queue))
	copy(out, d.queue)
	return out
}

// Reset clears the queue, deliveries and the event counter.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = nil
	d.deliveries = nil
	d.counter = 0
}
