package waitlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

type recorder struct{ types []string }

func (r *recorder) Notify(_ context.Context, eventType string, _ any) {
	r.types = append(r.types, eventType)
}

func newService(t *testing.T) (*Service, *store.Store, *recorder) {
	t.Helper()
	st := store.NewMemory()
	rec := &recorder{}
	tick := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	svc := New(st, rec, slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	})
	return svc, st, rec
}

var grace = Application{FirstName: "Grace", LastName: "Hopper", Email: "Grace@Navy.example", Phone: "555 123 0002", ReferredBy: "Ada"}

func TestSubmit(t *testing.T) {
	svc, _, rec := newService(t)
	e, err := svc.Submit(context.Background(), grace)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if e.Status != store.WaitlistPending || e.Email != "grace@navy.example" || e.Phone != "+15551230002" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if len(rec.types) != 1 || rec.types[0] != EventSubmitted {
		t.Errorf("events = %v", rec.types)
	}
	if _, err := svc.Submit(context.Background(), grace); !errors.Is(err, validate.ErrConflict) {
		t.Errorf("duplicate pending application: %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newService(t)
	tests := []struct {
		name  string
		app   Application
		field string
	}{
		{"missing first name", Application{LastName: "H", Email: "a@b.example", Phone: "5551230002"}, "first_name"},
		{"missing last name", Application{FirstName: "G", Email: "a@b.example", Phone: "5551230002"}, "last_name"},
		{"bad email", Application{FirstName: "G", LastName: "H", Email: "ab", Phone: "5551230002"}, "email"},
		{"missing phone", Application{FirstName: "G", LastName: "H", Email: "a@b.example"}, "phone"},
		{"bad phone", Application{FirstName: "G", LastName: "H", Email: "a@b.example", Phone: "123"}, "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.app)
			var ve *validate.Error
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected %s validation error, got %v", tt.field, err)
			}
		})
	}
}

func TestApproveCreatesMember(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	e, _ := svc.Submit(ctx, grace)

	approved, m, err := svc.Approve(ctx, e.ID, "manager@club.example")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != store.WaitlistApproved || approved.MemberID != m.ID || approved.ReviewedBy != "manager@club.example" || approved.ReviewedAt == nil {
		t.Errorf("unexpected entry: %+v", approved)
	}
	stored, err := st.Members.Fetch(ctx, m.ID)
	if err != nil || stored.Status != store.MemberStatusActive || stored.Email != "grace@navy.example" {
		t.Errorf("member: %+v, %v", stored, err)
	}

	if _, _, err := svc.Approve(ctx, e.ID, "manager@club.example"); !errors.Is(err, validate.ErrConflict) {
		t.Errorf("second approve: %v", err)
	}
	if _, err := svc.Deny(ctx, e.ID, "manager@club.example"); !errors.Is(err, validate.ErrConflict) {
		t.Errorf("deny approved: %v", err)
	}

	// Approved entries no longer block a new application.
	if _, err := svc.Submit(ctx, grace); err != nil {
		t.Errorf("resubmit after approval: %v", err)
	}
}

func TestDenyAndList(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	first, _ := svc.Submit(ctx, grace)
	second, err := svc.Submit(ctx, Application{FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", Phone: "5551230003"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Deny(ctx, first.ID, ""); !validate.IsValidation(err) {
		t.Errorf("deny without reviewer: %v", err)
	}
	if _, err := svc.Deny(ctx, first.ID, "manager"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if _, err := svc.Update(ctx, second.ID, "Met at the wine dinner"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending, _ := svc.List(ctx, store.WaitlistPending)
	if len(pending) != 1 || pending[0].ID != second.ID || pending[0].Notes != "Met at the wine dinner" {
		t.Errorf("pending = %+v", pending)
	}
	all, _ := svc.List(ctx, "")
	if len(all) != 2 || all[0].ID != first.ID {
		t.Errorf("all = %+v", all)
	}
}

func TestApproveRejectsExistingMemberEmail(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	_ = st.Members.Put(ctx, "mem_000009", store.Member{ID: "mem_000009", FirstName: "Grace", Email: "grace@navy.example"})
	e, _ := svc.Submit(ctx, grace)
	if _, _, err := svc.Approve(ctx, e.ID, "manager"); !errors.Is(err, validate.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := svc.Get(ctx, e.ID)
	if got.Status != store.WaitlistPending {
		t.Errorf("entry should stay pending, got %s", got.Status)
	}
}
