package domain

import (
	"fmt"
	"time"
)

// ClockTime is a time of day expressed as minutes from midnight. It survives
// JSON and SQL round-trips as "HH:MM" text.
type ClockTime int

// EndOfDay is the exclusive upper bound of a day in minutes. A window end of
// "00:00" is normalized to this value: the window runs to midnight, with no
// wrap into the following day.
const EndOfDay ClockTime = 24 * 60

// ParseClockTime parses "HH:MM" (00:00 through 23:59).
func ParseClockTime(s string) (ClockTime, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, ValidationError{Field: "time", Message: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}
	return ClockTime(parsed.Hour()*60 + parsed.Minute()), nil
}

// MustClockTime parses a literal HH:MM and panics on failure. For fixtures
// and defaults only.
func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the canonical HH:MM form.
func (c ClockTime) String() string {
	if c == EndOfDay {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes the clock time as its HH:MM text.
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON decodes HH:MM text.
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ValidationError{Field: "time", Message: "invalid clock time literal"}
	}
	parsed, err := ParseClockTime(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MinuteOfDay converts a wall-clock instant to minutes from local midnight.
func MinuteOfDay(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// windowBounds returns the effective [start, end] of the medication's window
// with the midnight end normalized to EndOfDay.
func (m Medication) windowBounds() (ClockTime, ClockTime) {
	end := m.WindowEnd
	if end == 0 {
		end = EndOfDay
	}
	return m.WindowStart, end
}

// InWindow reports whether the instant falls inside the medication's dose
// window widened by the reminder buffer on both sides. Bounds are clamped to
// the day; a window that ends at midnight never leaks into the next day.
func (m Medication) InWindow(t time.Time, buffer time.Duration) bool {
	start, end := m.windowBounds()
	lo := start - ClockTime(buffer.Minutes())
	if lo < 0 {
		lo = 0
	}
	hi := end + ClockTime(buffer.Minutes())
	if hi > EndOfDay {
		hi = EndOfDay
	}
	now := MinuteOfDay(t)
	return lo <= now && now <= hi
}

// WindowElapsed reports whether the window, widened by the buffer, has fully
// passed at the given instant. Slots whose window has not elapsed are neither
// missed nor countable for adherence.
func (m Medication) WindowElapsed(t time.Time, buffer time.Duration) bool {
	_, end := m.windowBounds()
	hi := end + ClockTime(buffer.Minutes())
	if hi >= EndOfDay {
		return false
	}
	return MinuteOfDay(t) > hi
}

// DueOn reports whether the medication is scheduled and in window at the
// given instant. It does not consult the tracking ledger.
func (m Medication) DueOn(t time.Time, buffer time.Duration) bool {
	return m.Active && m.ScheduledOn(WeekdayOf(t)) && m.InWindow(t, buffer)
}
