package domain

import (
	"errors"
	"strings"
	"testing"
)

func validMedication() Medication {
	return Medication{
		Name:              "Lisinopril",
		Dosage:            "10mg",
		Window:            WindowMorning,
		WindowStart:       MustClockTime("06:00"),
		WindowEnd:         MustClockTime("10:00"),
		Days:              []Weekday{Monday, Wednesday, Friday},
		PillsRemaining:    30,
		PillsPerDose:      1,
		LowStockThreshold: 5,
		Active:            true,
	}
}

func TestValidateAcceptsWellFormedMedication(t *testing.T) {
	if err := validMedication().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateFieldBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Medication)
		field  string
	}{
		{"empty name", func(m *Medication) { m.Name = "" }, "name"},
		{"long name", func(m *Medication) { m.Name = strings.Repeat("x", 51) }, "name"},
		{"empty dosage", func(m *Medication) { m.Dosage = "" }, "dosage"},
		{"bad window name", func(m *Medication) { m.Window = "midday" }, "time_window"},
		{"end before start", func(m *Medication) { m.WindowEnd = MustClockTime("05:00") }, "window_end"},
		{"end equals start", func(m *Medication) { m.WindowEnd = m.WindowStart }, "window_end"},
		{"no days", func(m *Medication) { m.Days = nil }, "days"},
		{"bad day", func(m *Medication) { m.Days = []Weekday{"funday"} }, "days"},
		{"duplicate day", func(m *Medication) { m.Days = []Weekday{Monday, Monday} }, "days"},
		{"long notes", func(m *Medication) { s := strings.Repeat("n", 101); m.Notes = &s }, "notes"},
		{"negative pills", func(m *Medication) { m.PillsRemaining = -1 }, "pills_remaining"},
		{"too many pills", func(m *Medication) { m.PillsRemaining = 1001 }, "pills_remaining"},
		{"zero per dose", func(m *Medication) { m.PillsPerDose = 0 }, "pills_per_dose"},
		{"huge per dose", func(m *Medication) { m.PillsPerDose = 11 }, "pills_per_dose"},
		{"zero threshold", func(m *Medication) { m.LowStockThreshold = 0 }, "low_stock_threshold"},
	}
	for _, tc := range cases {
		med := validMedication()
		tc.mutate(&med)
		err := med.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		var verr ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %T", tc.name, err)
			continue
		}
		if verr.Field != tc.field {
			t.Errorf("%s: field = %q, want %q", tc.name, verr.Field, tc.field)
		}
	}
}

func TestValidateAllowsMidnightEnd(t *testing.T) {
	med := validMedication()
	med.Window = WindowNight
	med.WindowStart = MustClockTime("22:00")
	med.WindowEnd = MustClockTime("00:00")
	if err := med.Validate(); err != nil {
		t.Fatalf("midnight end should validate: %v", err)
	}
}

func TestValidateSkip(t *testing.T) {
	if err := ValidateSkip(SkipForgot, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSkip("overslept", nil); !IsValidation(err) {
		t.Fatalf("expected ValidationError for unknown reason, got %v", err)
	}
	long := strings.Repeat("n", 501)
	if err := ValidateSkip(SkipOther, &long); !IsValidation(err) {
		t.Fatalf("expected ValidationError for long notes, got %v", err)
	}
}

func TestLowStockAndDaysRemaining(t *testing.T) {
	med := validMedication()
	med.PillsRemaining = 5
	med.LowStockThreshold = 5
	if !med.LowStock() {
		t.Fatalf("remaining == threshold should be low stock")
	}
	med.PillsRemaining = 6
	if med.LowStock() {
		t.Fatalf("remaining above threshold should not be low stock")
	}
	med.PillsRemaining = 7
	med.PillsPerDose = 2
	if got := med.DaysRemaining(); got != 3.5 {
		t.Fatalf("DaysRemaining = %v, want 3.5", got)
	}
}
