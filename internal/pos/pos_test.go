package pos_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/supperclub/clubdesk/internal/pos"
	"github.com/supperclub/clubdesk/internal/pos/postest"
)

var businessDay = time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC)

func houseCheck(guid, account string, amount float64) pos.Check {
	return pos.Check{
		GUID: guid, DisplayNumber: guid, TotalAmount: amount, ClosedDate: "2026-10-18T23:10:00Z",
		Payments: []pos.Payment{{GUID: "pay-" + guid, Type: pos.PaymentTypeHouseAccount, Amount: amount, HouseAccount: &pos.Ref{GUID: account}}},
	}
}

func TestOrdersFollowsPages(t *testing.T) {
	fake := postest.New(t)
	for i := range 5 {
		fake.Add(pos.Order{BusinessDate: 20261018, Checks: []pos.Check{houseCheck(string(rune('a'+i)), "ha-1", 10)}})
	}
	fake.Add(pos.Order{BusinessDate: 20261017})

	orders, err := fake.Client().Orders(context.Background(), businessDay)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 5 {
		t.Errorf("got %d orders, want 5", len(orders))
	}
}

func TestOrdersRejectsBadToken(t *testing.T) {
	fake := postest.New(t)
	c := pos.New(pos.Config{BaseURL: fake.URL, Token: "wrong", RestaurantGUID: postest.RestaurantGUID})
	_, err := c.Orders(context.Background(), businessDay)
	var pe *pos.Error
	if !errors.As(err, &pe) || pe.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestHouseAccountCharges(t *testing.T) {
	mixed := pos.Check{
		GUID: "chk-mixed", DisplayNumber: "42", ClosedDate: "2026-10-18T22:00:00Z",
		Payments: []pos.Payment{
			{Type: "CREDIT", Amount: 30},
			{Type: pos.PaymentTypeHouseAccount, Amount: 45.5, TipAmount: 9.1, HouseAccount: &pos.Ref{GUID: "ha-2"}},
		},
	}
	voidedCheck := houseCheck("chk-void", "ha-1", 20)
	voidedCheck.Voided = true
	orders := []pos.Order{
		{GUID: "o1", Checks: []pos.Check{houseCheck("chk-1", "ha-1", 12.34), mixed, voidedCheck}},
		{GUID: "o2", Voided: true, Checks: []pos.Check{houseCheck("chk-2", "ha-1", 99)}},
		{GUID: "o3", Checks: []pos.Check{{GUID: "chk-cash", Payments: []pos.Payment{{Type: "CASH", Amount: 5}}}}},
	}

	want := []pos.HouseAccountCharge{
		{CheckGUID: "chk-1", CheckNumber: "chk-1", HouseAccountID: "ha-1", AmountCents: 1234, ClosedAt: time.Date(2026, 10, 18, 23, 10, 0, 0, time.UTC)},
		{CheckGUID: "chk-mixed", CheckNumber: "42", HouseAccountID: "ha-2", AmountCents: 5460, ClosedAt: time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, pos.HouseAccountCharges(orders)); diff != "" {
		t.Errorf("charges mismatch (-want +got):\n%s", diff)
	}
}
