package render

import (
	"testing"
	"time"

	"github.com/supperclub/clubdesk/internal/store"
)

func TestExpand(t *testing.T) {
	vars := ForMember(store.Member{FirstName: "Ada", LastName: "Lovelace", Phone: "+15550100"})

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "no placeholders", input: "Kitchen closes at 11", want: "Kitchen closes at 11"},
		{name: "first name", input: "Hi {{member.first_name}}!", want: "Hi Ada!"},
		{name: "spaces inside braces", input: "Hi {{ member.full_name }}", want: "Hi Ada Lovelace"},
		{name: "repeated", input: "{{member.first_name}}/{{member.first_name}}", want: "Ada/Ada"},
		{name: "unknown", input: "{{member.shoe_size}}", wantErr: true},
		{name: "unterminated", input: "Hi {{member.first_name", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.input, vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandDoesNotReexpandValues(t *testing.T) {
	got, err := Expand("{{member.first_name}}", Vars{"member.first_name": "{{member.first_name}}"})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if got != "{{member.first_name}}" {
		t.Errorf("Expand() = %q", got)
	}
}

func TestForReservation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r := store.Reservation{
		Name:      "Grace Hopper",
		PartySize: 4,
		Start:     time.Date(2026, 7, 3, 23, 30, 0, 0, time.UTC),
	}
	got, err := Expand("{{member.first_name}}, table for {{reservation.party_size}} on {{reservation.date}} at {{reservation.time}}", ForReservation(r, ny))
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	want := "Grace, table for 4 on Fri Jul 3 at 7:30 PM"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMergePrefersLater(t *testing.T) {
	base := Vars{"member.first_name": "Guest", "reservation.time": "7:00 PM"}
	merged := base.Merge(Vars{"member.first_name": "Ada"})
	if merged["member.first_name"] != "Ada" || merged["reservation.time"] != "7:00 PM" {
		t.Errorf("unexpected merge: %+v", merged)
	}
	if base["member.first_name"] != "Guest" {
		t.Error("Merge mutated the receiver")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("Reminder: {{reservation.time}} for {{member.first_name}}"); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if err := Validate("{{club.secret}}"); err == nil {
		t.Error("expected unknown placeholder to fail validation")
	}
}
