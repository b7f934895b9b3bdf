package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// ---------------------------------------------------------------------------
// Notify
// ---------------------------------------------------------------------------

func TestNotifyQueuesWhenNotAutoDelivering(t *testing.T) {
	d := NewDispatcher(Config{URL: "http://example.invalid", Now: fixedClock})
	d.Notify(context.Background(), ReservationConfirmed, map[string]string{"id": "res_1"})
	d.Notify(context.Background(), ReservationCancelled, map[string]string{"id": "res_1"})

	queued := d.QueuedEvents()
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(queued))
	}
	if queued[0].ID != "whk_000001" || queued[1].ID != "whk_000002" {
		t.Errorf("unexpected IDs: %s, %s", queued[0].ID, queued[1].ID)
	}
	if !queued[0].CreatedAt.Equal(fixedNow) {
		t.Errorf("created_at = %v, want %v", queued[0].CreatedAt, fixedNow)
	}
}

func TestNotifyWithoutURLDropsEvent(t *testing.T) {
	d := NewDispatcher(Config{})
	d.Notify(context.Background(), WaitlistSubmitted, nil)
	if len(d.QueuedEvents()) != 0 {
		t.Errorf("expected nothing queued without URL, got %d", len(d.QueuedEvents()))
	}
}

func TestNotifyAutoDeliver(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, AutoDeliver: true, MaxRetries: 1})
	d.Notify(context.Background(), WaitlistSubmitted, map[string]string{"id": "wl_1"})
	d.Wait()

	if received.Load() != 1 {
		t.Errorf("expected 1 delivery for auto-deliver, got %d", received.Load())
	}
	if len(d.QueuedEvents()) != 0 {
		t.Errorf("auto-delivered events must not stay queued")
	}
}

// ---------------------------------------------------------------------------
// Flush
// ---------------------------------------------------------------------------

func TestFlushDeliversSignedEvents(t *testing.T) {
	const secret = "whsec_test"
	var mu sync.Mutex
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !Verify(r.Header.Get(SignatureHeader), body, secret, fixedNow, time.Minute) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var evt Event
		json.Unmarshal(body, &evt)
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, Secret: secret, MaxRetries: 1, Now: fixedClock})
	d.Notify(context.Background(), ReservationConfirmed, map[string]string{"id": "res_1"})
	d.Notify(context.Background(), ReservationCancelled, map[string]string{"id": "res_1"})

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if len(got) != 2 || got[0].Type != ReservationConfirmed || got[1].Type != ReservationCancelled {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	if len(d.QueuedEvents()) != 0 {
		t.Errorf("expected empty queue after flush")
	}
	if n := len(d.Deliveries()); n != 2 {
		t.Errorf("expected 2 delivery records, got %d", n)
	}
}

func TestFlushRetriesOnFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	d.Notify(context.Background(), ReservationConfirmed, nil)

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush should succeed after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	deliveries := d.Deliveries()
	if len(deliveries) != 3 || deliveries[0].StatusCode != 500 || deliveries[2].StatusCode != 200 {
		t.Errorf("unexpected delivery log: %+v", deliveries)
	}
}

func TestFlushAllRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	d.Notify(context.Background(), ReservationConfirmed, nil)

	if err := d.Flush(context.Background()); err == nil {
		t.Fatal("expected error when every attempt fails")
	}
}

// ---------------------------------------------------------------------------
// Signing
// ---------------------------------------------------------------------------

func TestVerify(t *testing.T) {
	payload := []byte(`{"id":"whk_000001"}`)
	header := HMACSigner{}.Sign(payload, "s3cret", fixedNow)[SignatureHeader]

	tests := []struct {
		name    string
		header  string
		payload []byte
		secret  string
		now     time.Time
		want    bool
	}{
		{"valid", header, payload, "s3cret", fixedNow, true},
		{"wrong secret", header, payload, "other", fixedNow, false},
		{"tampered payload", header, []byte(`{"id":"x"}`), "s3cret", fixedNow, false},
		{"stale", header, payload, "s3cret", fixedNow.Add(10 * time.Minute), false},
		{"garbage", "nonsense", payload, "s3cret", fixedNow, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.header, tt.payload, tt.secret, tt.now, 5*time.Minute); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	d := NewDispatcher(Config{URL: "http://example.invalid"})
	d.Notify(context.Background(), ReservationConfirmed, nil)
	d.Reset()
	if len(d.QueuedEvents()) != 0 || len(d.Deliveries()) != 0 {
		t.Error("expected empty dispatcher after reset")
	}
	d.Notify(context.Background(), ReservationConfirmed, nil)
	if id := d.QueuedEvents()[0].ID; id != "whk_000001" {
		t.Errorf("counter not reset, got %s", id)
	}
}
