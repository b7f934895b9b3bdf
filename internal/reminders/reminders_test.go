package reminders

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/supperclub/clubdesk/internal/messaging"
	"github.com/supperclub/clubdesk/internal/sms/smstest"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

var dinner = time.Date(2026, time.October, 20, 19, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	st    *store.Store
	fake  *smstest.Server
	clock *time.Time
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	st := store.NewMemory()
	fake := smstest.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := dinner.Add(-3 * time.Hour)
	f := &fixture{st: st, fake: fake, clock: &clock}
	nowFn := func() time.Time { return *f.clock }
	msg := messaging.New(st, messaging.Options{Sender: fake.Client(), Logger: logger, Now: nowFn})
	f.svc = New(st, Options{Deliverer: msg, Location: time.UTC, Interval: interval, Logger: logger, Now: nowFn})

	ctx := context.Background()
	ada := store.Member{ID: "mem_000001", FirstName: "Ada", LastName: "Lovelace", Phone: "+15551230001", Status: store.MemberStatusActive}
	if err := st.Members.Put(ctx, ada.ID, ada); err != nil {
		t.Fatal(err)
	}
	for _, r := range []store.Reservation{
		{ID: "res_000001", MemberID: ada.ID, Name: "Ada Lovelace", Phone: ada.Phone, PartySize: 2, Start: dinner, End: dinner.Add(90 * time.Minute), Status: store.ReservationConfirmed},
		{ID: "res_000002", Name: "Grace Hopper", Phone: "+15551230002", PartySize: 4, Start: dinner, End: dinner.Add(90 * time.Minute), Status: store.ReservationConfirmed},
		{ID: "res_000003", Name: "Alan Turing", Phone: "+15551230003", PartySize: 2, Start: dinner, End: dinner.Add(90 * time.Minute), Status: store.ReservationCancelled},
		{ID: "res_000004", Name: "No Phone", PartySize: 2, Start: dinner, End: dinner.Add(90 * time.Minute), Status: store.ReservationConfirmed},
	} {
		if err := st.Reservations.Put(ctx, r.ID, r); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func TestTemplateValidation(t *testing.T) {
	f := newFixture(t, time.Minute)
	tests := []struct {
		name string
		in   Input
	}{
		{"missing body", Input{Name: "x"}},
		{"negative offset", Input{Name: "x", Body: "hi", OffsetMinutes: -5}},
		{"offset over a week", Input{Name: "x", Body: "hi", OffsetMinutes: MaxOffsetMinutes + 1}},
		{"unknown placeholder", Input{Name: "x", Body: "{{reservation.table}}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateTemplate(context.Background(), tt.in); !validate.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRunDueSendsOncePerReservation(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	if _, err := f.svc.CreateTemplate(ctx, Input{
		Name: "Two hours", OffsetMinutes: 120, Active: true,
		Body: "Hi {{member.first_name}}, see you {{reservation.date}} at {{reservation.time}} for {{reservation.party_size}}.",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateTemplate(ctx, Input{Name: "Inactive", Body: "never", OffsetMinutes: 120}); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.RunDue(ctx, dinner.Add(-121*time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("early run = %d, %v", n, err)
	}
	n, err = f.svc.RunDue(ctx, dinner.Add(-120*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("due run = %d, %v", n, err)
	}
	if got := f.fake.SentTo("+15551230001"); len(got) != 1 || got[0] != "Hi Ada, see you Tue Oct 20 at 7:00 PM for 2." {
		t.Errorf("ada received %v", got)
	}
	if got := f.fake.SentTo("+15551230002"); len(got) != 1 || got[0] != "Hi Grace, see you Tue Oct 20 at 7:00 PM for 4." {
		t.Errorf("grace received %v", got)
	}
	if got := f.fake.SentTo("+15551230003"); len(got) != 0 {
		t.Errorf("cancelled reservation reminded: %v", got)
	}

	n, err = f.svc.RunDue(ctx, dinner.Add(-120*time.Minute))
	if err != nil || n != 0 {
		t.Errorf("repeat run = %d, %v", n, err)
	}
	deliveries, _ := f.svc.Deliveries(ctx, "res_000001")
	if len(deliveries) != 1 || deliveries[0].MessageID == "" {
		t.Errorf("deliveries = %+v", deliveries)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	tmpl, err := f.svc.CreateTemplate(ctx, Input{Name: "Day of", Body: "{{member.full_name}}: {{reservation.time}}", OffsetMinutes: 240, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Preview(ctx, tmpl.ID, "res_000002")
	if err != nil || got != "Grace Hopper: 7:00 PM" {
		t.Errorf("Preview = %q, %v", got, err)
	}
}

type countingDispatcher struct{ calls atomic.Int32 }

func (d *countingDispatcher) DispatchDue(context.Context, time.Time) (int, error) {
	d.calls.Add(1)
	return 0, nil
}

func TestWorkerTick(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	if _, err := f.svc.CreateTemplate(ctx, Input{Name: "Two hours", Body: "See you soon", OffsetMinutes: 120, Active: true}); err != nil {
		t.Fatal(err)
	}
	d := &countingDispatcher{}
	w := NewWorker(f.svc, d)

	*f.clock = dinner.Add(-120 * time.Minute)
	got := w.Tick(ctx)
	if got.Reminders != 2 || d.calls.Load() != 1 {
		t.Errorf("Tick = %+v, dispatcher calls %d", got, d.calls.Load())
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	d := &countingDispatcher{}
	w := NewWorker(f.svc, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for d.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
