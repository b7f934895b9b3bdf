package members

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/supperclub/clubdesk/internal/payments/paymentstest"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

var now = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *paymentstest.Server) {
	t.Helper()
	fake := paymentstest.New(t)
	tick := now
	svc := New(store.NewMemory(), fake.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	return svc, fake
}

func mustCreate(t *testing.T, svc *Service, in Input) *store.Member {
	t.Helper()
	m, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return m
}

func TestCreateNormalises(t *testing.T) {
	svc, _ := newService(t)
	m := mustCreate(t, svc, Input{FirstName: " Ada ", LastName: "Lovelace", Email: "Ada@Club.Example", Phone: "555-123-0001"})

	want := store.Member{
		ID: "mem_000001", FirstName: "Ada", LastName: "Lovelace", Email: "ada@club.example",
		Phone: "+15551230001", Status: store.MemberStatusActive,
	}
	if diff := cmp.Diff(want, *m, cmpopts.IgnoreFields(store.Member{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("member mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	mustCreate(t, svc, Input{FirstName: "Ada", Email: "ada@club.example", HouseAccountID: "HA-1"})

	tests := []struct {
		name     string
		in       Input
		conflict bool
	}{
		{"missing first name", Input{Email: "x@club.example"}, false},
		{"bad email", Input{FirstName: "X", Email: "nope"}, false},
		{"bad phone", Input{FirstName: "X", Email: "x@club.example", Phone: "12"}, false},
		{"bad status", Input{FirstName: "X", Email: "x@club.example", Status: "gold"}, false},
		{"duplicate email", Input{FirstName: "X", Email: "ADA@club.example"}, true},
		{"duplicate house account", Input{FirstName: "X", Email: "x@club.example", HouseAccountID: "HA-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			if tt.conflict {
				if !errors.Is(err, validate.ErrConflict) {
					t.Errorf("expected conflict, got %v", err)
				}
				return
			}
			if !validate.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateKeepsOwnEmail(t *testing.T) {
	svc, _ := newService(t)
	m := mustCreate(t, svc, Input{FirstName: "Ada", Email: "ada@club.example"})
	got, err := svc.Update(context.Background(), m.ID, Input{FirstName: "Ada", LastName: "King", Email: "ada@club.example", Status: store.MemberStatusInactive})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.LastName != "King" || got.Status != store.MemberStatusInactive || !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("unexpected member: %+v", got)
	}
}

func TestListSearch(t *testing.T) {
	svc, _ := newService(t)
	mustCreate(t, svc, Input{FirstName: "Grace", LastName: "Hopper", Email: "grace@navy.example", Phone: "+15551230002"})
	mustCreate(t, svc, Input{FirstName: "Ada", LastName: "Lovelace", Email: "ada@club.example", Phone: "+15551230001"})
	mustCreate(t, svc, Input{FirstName: "Alan", LastName: "Turing", Email: "alan@club.example", Status: store.MemberStatusSuspended})

	tests := []struct {
		q, status string
		want      []string
	}{
		{"", "", []string{"Grace", "Ada", "Alan"}},
		{"club.example", "", []string{"Ada", "Alan"}},
		{"LOVE", "", []string{"Ada"}},
		{"(555) 123-0002", "", []string{"Grace"}},
		{"", store.MemberStatusSuspended, []string{"Alan"}},
	}
	for _, tt := range tests {
		got, err := svc.List(context.Background(), tt.q, tt.status)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var names []string
		for _, m := range got {
			names = append(names, m.FirstName)
		}
		if diff := cmp.Diff(tt.want, names); diff != "" {
			t.Errorf("List(%q, %q) mismatch (-want +got):\n%s", tt.q, tt.status, diff)
		}
	}
}

// ---------------------------------------------------------------------------
// Cards on file
// ---------------------------------------------------------------------------

func TestSetupCardCreatesCustomerOnce(t *testing.T) {
	svc, fake := newService(t)
	ctx := context.Background()
	m := mustCreate(t, svc, Input{FirstName: "Ada", Email: "ada@club.example"})

	first, err := svc.SetupCard(ctx, m.ID)
	if err != nil {
		t.Fatalf("SetupCard: %v", err)
	}
	second, err := svc.SetupCard(ctx, m.ID)
	if err != nil {
		t.Fatalf("SetupCard: %v", err)
	}
	if first.CustomerID != second.CustomerID || first.ClientSecret == "" {
		t.Errorf("unexpected setups: %+v %+v", first, second)
	}
	if fake.Customers.Count() != 1 {
		t.Errorf("customers = %d, want 1", fake.Customers.Count())
	}
	got, _ := svc.Get(ctx, m.ID)
	if got.ProcessorCustomerID != first.CustomerID {
		t.Errorf("customer not stored on member: %+v", got)
	}
}

func TestPaymentMethodLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	m := mustCreate(t, svc, Input{FirstName: "Ada", Email: "ada@club.example"})

	visa, err := svc.AddPaymentMethod(ctx, m.ID, "pm_card_visa")
	if err != nil {
		t.Fatalf("AddPaymentMethod: %v", err)
	}
	if !visa.IsDefault || visa.Brand != "visa" || visa.Last4 != "4242" {
		t.Errorf("unexpected card: %+v", visa)
	}
	mc, err := svc.AddPaymentMethod(ctx, m.ID, "pm_card_mastercard")
	if err != nil {
		t.Fatalf("AddPaymentMethod: %v", err)
	}
	if mc.IsDefault {
		t.Error("second card must not be default")
	}
	amex, err := svc.AddPaymentMethod(ctx, m.ID, "pm_card_amex")
	if err != nil {
		t.Fatalf("AddPaymentMethod: %v", err)
	}
	if _, err := svc.AddPaymentMethod(ctx, m.ID, "pm_card_visa"); !errors.Is(err, validate.ErrConflict) {
		t.Errorf("duplicate card: %v", err)
	}
	if _, err := svc.AddPaymentMethod(ctx, m.ID, "pm_missing"); !validate.IsValidation(err) {
		t.Errorf("unknown card: %v", err)
	}

	if _, err := svc.SetDefaultPaymentMethod(ctx, m.ID, amex.ID); err != nil {
		t.Fatalf("SetDefaultPaymentMethod: %v", err)
	}
	cards, _ := svc.PaymentMethods(ctx, m.ID)
	if cards[0].ID != amex.ID || !cards[0].IsDefault || cards[1].IsDefault || cards[2].IsDefault {
		t.Errorf("default not moved: %+v", cards)
	}

	if err := svc.RemovePaymentMethod(ctx, m.ID, amex.ID); err != nil {
		t.Fatalf("RemovePaymentMethod: %v", err)
	}
	cards, _ = svc.PaymentMethods(ctx, m.ID)
	if len(cards) != 2 || cards[0].ID != visa.ID || !cards[0].IsDefault {
		t.Errorf("oldest card should be promoted: %+v", cards)
	}
}

func TestPaymentMethodBelongsToMember(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	ada := mustCreate(t, svc, Input{FirstName: "Ada", Email: "ada@club.example"})
	grace := mustCreate(t, svc, Input{FirstName: "Grace", Email: "grace@club.example"})
	card, err := svc.AddPaymentMethod(ctx, ada.ID, "pm_card_visa")
	if err != nil {
		t.Fatalf("AddPaymentMethod: %v", err)
	}
	if err := svc.RemovePaymentMethod(ctx, grace.ID, card.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteDetachesCards(t *testing.T) {
	svc, fake := newService(t)
	ctx := context.Background()
	m := mustCreate(t, svc, Input{FirstName: "Ada", Email: "ada@club.example"})
	if _, err := svc.AddPaymentMethod(ctx, m.ID, "pm_card_visa"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("member still present: %v", err)
	}
	pm, _ := fake.PaymentMethods.Get("pm_card_visa")
	if pm.Customer != "" {
		t.Errorf("card still attached to %s", pm.Customer)
	}
}
