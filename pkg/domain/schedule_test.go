package domain

import (
	"testing"
	"time"
)

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:30", 390, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"7:30", 0, true},
		{"07:60", 0, true},
		{"garbage", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseClockTime(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClockTime(%q): expected error", tc.in)
			}
			if !IsValidation(err) {
				t.Errorf("ParseClockTime(%q): expected ValidationError, got %T", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClockTime(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseClockTime(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClockTimeRoundTrip(t *testing.T) {
	c := MustClockTime("09:05")
	if c.String() != "09:05" {
		t.Fatalf("String() = %q", c.String())
	}
	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ClockTime
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != c {
		t.Fatalf("round trip: %d != %d", back, c)
	}
}

func windowedMedication(start, end string) Medication {
	return Medication{
		Window:      WindowMorning,
		WindowStart: MustClockTime(start),
		WindowEnd:   MustClockTime(end),
		Days:        AllWeekdays,
		Active:      true,
	}
}

func at(hour, minute int) time.Time {
	// 2026-03-02 is a Monday.
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.Local)
}

func TestInWindowWithBuffer(t *testing.T) {
	med := windowedMedication("06:00", "10:00")
	buffer := 30 * time.Minute

	if !med.InWindow(at(5, 45), buffer) {
		t.Fatalf("05:45 should be in window with 30m buffer")
	}
	if !med.InWindow(at(10, 30), buffer) {
		t.Fatalf("10:30 should still be in window with 30m buffer")
	}
	if med.InWindow(at(5, 29), buffer) {
		t.Fatalf("05:29 should be before the buffered window")
	}
	if med.InWindow(at(10, 31), buffer) {
		t.Fatalf("10:31 should be after the buffered window")
	}
}

func TestWindowEndingAtMidnightDoesNotWrap(t *testing.T) {
	med := windowedMedication("22:00", "00:00")
	buffer := 30 * time.Minute

	if !med.InWindow(at(23, 59), buffer) {
		t.Fatalf("23:59 should be inside a window ending at midnight")
	}
	if med.InWindow(at(0, 10), buffer) {
		t.Fatalf("00:10 belongs to the next day; no wrap arithmetic")
	}
	if med.WindowElapsed(at(23, 59), buffer) {
		t.Fatalf("a midnight-ending window never elapses within its day")
	}
}

func TestWindowElapsed(t *testing.T) {
	med := windowedMedication("06:00", "10:00")
	buffer := 30 * time.Minute

	if med.WindowElapsed(at(10, 30), buffer) {
		t.Fatalf("10:30 is the buffered end, not yet elapsed")
	}
	if !med.WindowElapsed(at(10, 31), buffer) {
		t.Fatalf("10:31 should be elapsed")
	}
}

func TestDueOnChecksRecurrenceAndActive(t *testing.T) {
	med := windowedMedication("06:00", "10:00")
	med.Days = []Weekday{Tuesday}
	if med.DueOn(at(7, 0), 0) {
		t.Fatalf("monday is not a recurrence day")
	}
	med.Days = []Weekday{Monday}
	if !med.DueOn(at(7, 0), 0) {
		t.Fatalf("monday 07:00 should be due")
	}
	med.Active = false
	if med.DueOn(at(7, 0), 0) {
		t.Fatalf("inactive medication is never due")
	}
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2026-03-02")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Weekday() != Monday {
		t.Fatalf("weekday = %q, want mon", d.Weekday())
	}
	if d.Next() != Date("2026-03-03") {
		t.Fatalf("next = %q", d.Next())
	}
	if !Date("2026-03-03").After(d) || !d.Before("2026-03-03") {
		t.Fatalf("ordering helpers broken")
	}
	if _, err := ParseDate("03/02/2026"); !IsValidation(err) {
		t.Fatalf("expected ValidationError for bad date, got %v", err)
	}
}
