// Package domain defines the persistent entities, value types, error
// taxonomy, and rule evaluation primitives used by medtrack.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityMedication identifies a trackable medication record.
	EntityMedication EntityType = "medication"
	// EntityTrackingRecord identifies a dose-slot action record.
	EntityTrackingRecord EntityType = "tracking_record"
)

// TimeWindow names one of the four recurring daily dose periods.
type TimeWindow string

// Canonical time windows. Each medication is assigned exactly one.
const (
	WindowMorning   TimeWindow = "morning"
	WindowAfternoon TimeWindow = "afternoon"
	WindowEvening   TimeWindow = "evening"
	WindowNight     TimeWindow = "night"
)

// TimeWindows lists the canonical windows in day order.
var TimeWindows = []TimeWindow{WindowMorning, WindowAfternoon, WindowEvening, WindowNight}

// Valid reports whether w is one of the canonical windows.
func (w TimeWindow) Valid() bool {
	switch w {
	case WindowMorning, WindowAfternoon, WindowEvening, WindowNight:
		return true
	}
	return false
}

// Weekday is a lowercase three-letter recurrence day.
type Weekday string

// Recurrence days.
const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

// AllWeekdays lists the recurrence days in calendar order.
var AllWeekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Valid reports whether d is a recognised recurrence day.
func (d Weekday) Valid() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// WeekdayOf converts a wall-clock instant to its recurrence day.
func WeekdayOf(t time.Time) Weekday {
	switch t.Weekday() {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// DoseStatus is the recorded outcome of a dose slot. A slot with no record is
// pending; pending is inferred, never materialised.
type DoseStatus string

// Recorded dose outcomes.
const (
	StatusTaken   DoseStatus = "taken"
	StatusSkipped DoseStatus = "skipped"
)

// SkipReason is the fixed enumeration of reasons a dose may be skipped.
type SkipReason string

// Canonical skip reasons.
const (
	SkipForgot        SkipReason = "forgot"
	SkipSideEffects   SkipReason = "side_effects"
	SkipOutOfStock    SkipReason = "out_of_stock"
	SkipDoctorAdvised SkipReason = "doctor_advised"
	SkipOther         SkipReason = "other"
)

// Valid reports whether r is a recognised skip reason.
func (r SkipReason) Valid() bool {
	switch r {
	case SkipForgot, SkipSideEffects, SkipOutOfStock, SkipDoctorAdvised, SkipOther:
		return true
	}
	return false
}

// Date is a civil calendar date in YYYY-MM-DD form.
type Date string

const dateLayout = "2006-01-02"

// NewDate truncates a wall-clock instant to its calendar date.
func NewDate(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// ParseDate validates and returns a civil date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return Date(s), nil
}

// Valid reports whether d parses as YYYY-MM-DD.
func (d Date) Valid() bool {
	_, err := time.Parse(dateLayout, string(d))
	return err == nil
}

// Time returns midnight local time of the date. Invalid dates yield the zero time.
func (d Date) Time() time.Time {
	t, err := time.ParseInLocation(dateLayout, string(d), time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Weekday returns the recurrence day the date falls on.
func (d Date) Weekday() Weekday { return WeekdayOf(d.Time()) }

// Next returns the following calendar date.
func (d Date) Next() Date { return NewDate(d.Time().AddDate(0, 0, 1)) }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return string(d) > string(other) }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return string(d) < string(other) }

// Base contains common fields for identified domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Medication is a trackable item with a daily dose window, weekday
// recurrence, and a pill inventory.
type Medication struct {
	Base
	Name              string     `json:"name"`
	Dosage            string     `json:"dosage"`
	Window            TimeWindow `json:"time_window"`
	WindowStart       ClockTime  `json:"window_start"`
	WindowEnd         ClockTime  `json:"window_end"`
	Days              []Weekday  `json:"days"`
	WithFood          bool       `json:"with_food"`
	Notes             *string    `json:"notes,omitempty"`
	PillsRemaining    int        `json:"pills_remaining"`
	PillsPerDose      int        `json:"pills_per_dose"`
	LowStockThreshold int        `json:"low_stock_threshold"`
	Active            bool       `json:"active"`
}

// LowStock reports whether the inventory is at or below the configured
// threshold. Always recomputed from current values, never cached.
func (m Medication) LowStock() bool {
	return m.PillsRemaining <= m.LowStockThreshold
}

// DaysRemaining estimates how many dose days the current inventory covers,
// rounded to one decimal.
func (m Medication) DaysRemaining() float64 {
	if m.PillsPerDose <= 0 {
		return 0
	}
	return round1(float64(m.PillsRemaining) / float64(m.PillsPerDose))
}

// ScheduledOn reports whether the medication recurs on the given day.
func (m Medication) ScheduledOn(day Weekday) bool {
	for _, d := range m.Days {
		if d == day {
			return true
		}
	}
	return false
}

// TrackingRecord is one recorded action against one dose slot. The slot
// (MedicationID, Date, Window) is unique: at most one record exists per slot,
// and a later action for the same slot overwrites it in place.
type TrackingRecord struct {
	MedicationID string     `json:"medication_id"`
	Date         Date       `json:"date"`
	Window       TimeWindow `json:"time_window"`
	Status       DoseStatus `json:"status"`
	Timestamp    time.Time  `json:"timestamp"`
	PillsTaken   int        `json:"pills_taken"`
	SkipReason   SkipReason `json:"skip_reason,omitempty"`
	SkipNotes    *string    `json:"skip_notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SlotKey returns the composite identity of the record's dose slot.
func (r TrackingRecord) SlotKey() string {
	return SlotKey(r.MedicationID, r.Date, r.Window)
}

// SlotKey builds the composite key identifying one dose slot.
func SlotKey(medicationID string, date Date, window TimeWindow) string {
	return medicationID + "|" + string(date) + "|" + string(window)
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured per transaction.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated (including slot re-marks).
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine together with the
// store-wide version sequence assigned to the committed transaction. Pollers
// compare Version against their last-seen value instead of wall-clock
// timestamps.
type Result struct {
	Violations []Violation
	Version    uint64
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

func round1(v float64) float64 {
	if v < 0 {
		return 0
	}
	return float64(int(v*10+0.5)) / 10
}
