package validate

import (
	"errors"
	"fmt"
	"testing"
)

func TestRequired(t *testing.T) {
	if err := Required("first_name", "Ada", "last_name", "Lovelace"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Required("first_name", "Ada", "email", "  ", "phone", "")
	var ve *Error
	if !errors.As(err, &ve) || ve.Field != "email" {
		t.Fatalf("expected email error, got %v", err)
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Ada@Club.Example", "ada@club.example", false},
		{" ada@club.example ", "ada@club.example", false},
		{"Ada <ada@club.example>", "", true},
		{"not-an-email", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Email("email", tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Email(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Email(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPhone(t *testing.T) {
	got, err := Phone("phone", "(555) 123-0001")
	if err != nil || got != "+15551230001" {
		t.Errorf("Phone = %q, %v", got, err)
	}
	if _, err := Phone("phone", "123"); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestConflictf(t *testing.T) {
	err := fmt.Errorf("send campaign: %w", Conflictf("campaign is %s", "sent"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict in chain: %v", err)
	}
	if IsValidation(err) {
		t.Error("conflict is not a validation error")
	}
}
