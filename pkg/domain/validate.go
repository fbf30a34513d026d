package domain

import "fmt"

// Field bounds carried over from the configuration interface contract.
const (
	maxNameLen      = 50
	maxDosageLen    = 20
	maxNotesLen     = 100
	maxSkipNotesLen = 500
	maxPills        = 1000
	maxPerDose      = 10
	maxThreshold    = 100
	// MaxBatchSize bounds a mark-taken batch request.
	MaxBatchSize = 20
)

// Validate checks every field invariant of a medication. It is called at
// creation and update time; schedule resolution assumes a stored medication
// is well formed.
func (m Medication) Validate() error {
	if m.Name == "" || len(m.Name) > maxNameLen {
		return ValidationError{Field: "name", Message: fmt.Sprintf("must be between 1 and %d characters", maxNameLen)}
	}
	if m.Dosage == "" || len(m.Dosage) > maxDosageLen {
		return ValidationError{Field: "dosage", Message: fmt.Sprintf("must be between 1 and %d characters", maxDosageLen)}
	}
	if !m.Window.Valid() {
		return ValidationError{Field: "time_window", Message: fmt.Sprintf("unknown time window %q", m.Window)}
	}
	if err := validateWindowBounds(m.WindowStart, m.WindowEnd); err != nil {
		return err
	}
	if len(m.Days) == 0 || len(m.Days) > len(AllWeekdays) {
		return ValidationError{Field: "days", Message: "must specify between 1 and 7 recurrence days"}
	}
	seen := make(map[Weekday]bool, len(m.Days))
	for _, day := range m.Days {
		if !day.Valid() {
			return ValidationError{Field: "days", Message: fmt.Sprintf("unknown day %q", day)}
		}
		if seen[day] {
			return ValidationError{Field: "days", Message: fmt.Sprintf("duplicate day %q", day)}
		}
		seen[day] = true
	}
	if m.Notes != nil && len(*m.Notes) > maxNotesLen {
		return ValidationError{Field: "notes", Message: fmt.Sprintf("must be %d characters or less", maxNotesLen)}
	}
	if m.PillsRemaining < 0 || m.PillsRemaining > maxPills {
		return ValidationError{Field: "pills_remaining", Message: fmt.Sprintf("must be between 0 and %d", maxPills)}
	}
	if m.PillsPerDose < 1 || m.PillsPerDose > maxPerDose {
		return ValidationError{Field: "pills_per_dose", Message: fmt.Sprintf("must be between 1 and %d", maxPerDose)}
	}
	if m.LowStockThreshold < 1 || m.LowStockThreshold > maxThreshold {
		return ValidationError{Field: "low_stock_threshold", Message: fmt.Sprintf("must be between 1 and %d", maxThreshold)}
	}
	return nil
}

// validateWindowBounds rejects windows whose normalized end does not follow
// the start. WindowEnd of 00:00 means midnight (end of day), which is valid
// for any start; everything else must strictly exceed the start.
func validateWindowBounds(start, end ClockTime) error {
	if start < 0 || start >= EndOfDay {
		return ValidationError{Field: "window_start", Message: "out of range"}
	}
	if end < 0 || end >= EndOfDay {
		return ValidationError{Field: "window_end", Message: "out of range"}
	}
	if end == 0 {
		// Normalized to EndOfDay; always after any valid start.
		return nil
	}
	if end <= start {
		return ValidationError{Field: "window_end", Message: "window end must be after window start"}
	}
	return nil
}

// ValidateSkip checks the skip reason and optional note bounds.
func ValidateSkip(reason SkipReason, notes *string) error {
	if !reason.Valid() {
		return ValidationError{Field: "skip_reason", Message: fmt.Sprintf("unknown skip reason %q", reason)}
	}
	if notes != nil && len(*notes) > maxSkipNotesLen {
		return ValidationError{Field: "notes", Message: fmt.Sprintf("must be %d characters or less", maxSkipNotesLen)}
	}
	return nil
}
