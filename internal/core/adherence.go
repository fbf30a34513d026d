package core

import (
	"context"
	"sort"
	"time"

	"medtrack/pkg/domain"
)

// AdherenceStats aggregates dose outcomes over a date range. Rates are
// percentages rounded to one decimal place; with nothing scheduled both rates
// are zero rather than undefined.
type AdherenceStats struct {
	Scheduled     int     `json:"scheduled"`
	Taken         int     `json:"taken"`
	Skipped       int     `json:"skipped"`
	Missed        int     `json:"missed"`
	AdherenceRate float64 `json:"adherence_rate"`
	SkipRate      float64 `json:"skip_rate"`
}

// MedicationStats is the per-medication breakdown within a report.
type MedicationStats struct {
	MedicationID string         `json:"medication_id"`
	Name         string         `json:"name"`
	Stats        AdherenceStats `json:"stats"`
}

// StatsReport is the full output of an adherence query.
type StatsReport struct {
	Start         Date              `json:"start_date"`
	End           Date              `json:"end_date"`
	Overall       AdherenceStats    `json:"overall"`
	PerMedication []MedicationStats `json:"per_medication"`
}

// StatsForRange computes adherence over [start, end] inclusive, optionally
// restricted to one medication. A slot counts as scheduled only once it is
// countable: either a tracking record exists for it, or its buffered window
// has fully elapsed. Slots still open today are excluded, so a rate never
// penalizes a dose the user still has time to take.
//
// Schedules are evaluated against each medication's current recurrence; past
// edits to days-of-week are not replayed.
func (s *Service) StatsForRange(ctx context.Context, start, end Date, medicationID string, now time.Time) (StatsReport, error) {
	if now.IsZero() {
		now = s.now()
	}
	report := StatsReport{Start: start, End: end}
	err := s.run(ctx, "stats_for_range", func(ctx context.Context) error {
		if !start.Valid() {
			return domain.ValidationError{Field: "start_date", Message: "invalid date"}
		}
		if !end.Valid() {
			return domain.ValidationError{Field: "end_date", Message: "invalid date"}
		}
		if end.Before(start) {
			return domain.ValidationError{Field: "date_range", Message: "end date precedes start date"}
		}
		return s.store.View(ctx, func(v TransactionView) error {
			var meds []Medication
			if medicationID != "" {
				m, ok := v.FindMedication(medicationID)
				if !ok {
					return domain.NotFoundError{Entity: EntityMedication, ID: medicationID}
				}
				meds = []Medication{m}
			} else {
				for _, m := range v.ListMedications() {
					if m.Active {
						meds = append(meds, m)
					}
				}
			}

			today := domain.NewDate(now)
			for _, med := range meds {
				stats := s.tallyMedication(v, med, start, end, today, now)
				report.Overall.Scheduled += stats.Scheduled
				report.Overall.Taken += stats.Taken
				report.Overall.Skipped += stats.Skipped
				report.Overall.Missed += stats.Missed
				report.PerMedication = append(report.PerMedication, MedicationStats{
					MedicationID: med.ID,
					Name:         med.Name,
					Stats:        stats,
				})
			}
			finishStats(&report.Overall)
			sort.Slice(report.PerMedication, func(i, j int) bool {
				if report.PerMedication[i].Name != report.PerMedication[j].Name {
					return report.PerMedication[i].Name < report.PerMedication[j].Name
				}
				return report.PerMedication[i].MedicationID < report.PerMedication[j].MedicationID
			})
			return nil
		})
	})
	if err != nil {
		return StatsReport{}, err
	}
	return report, nil
}

// TodayStats is StatsForRange restricted to today.
func (s *Service) TodayStats(ctx context.Context, medicationID string) (StatsReport, error) {
	now := s.now()
	today := domain.NewDate(now)
	return s.StatsForRange(ctx, today, today, medicationID, now)
}

func (s *Service) tallyMedication(v TransactionView, med Medication, start, end, today Date, now time.Time) AdherenceStats {
	var stats AdherenceStats
	for d := start; !d.After(end); d = d.Next() {
		if !med.ScheduledOn(d.Weekday()) {
			continue
		}
		rec, recorded := v.FindTrackingRecord(med.ID, d, med.Window)
		countable := recorded
		if !countable {
			switch {
			case d.Before(today):
				countable = true
			case d == today:
				countable = med.WindowElapsed(now, s.buffer)
			}
		}
		if !countable {
			continue
		}
		stats.Scheduled++
		if recorded {
			switch rec.Status {
			case StatusTaken:
				stats.Taken++
			case StatusSkipped:
				stats.Skipped++
			}
		}
	}
	finishStats(&stats)
	return stats
}

func finishStats(stats *AdherenceStats) {
	missed := stats.Scheduled - stats.Taken - stats.Skipped
	if missed < 0 {
		missed = 0
	}
	stats.Missed = missed
	stats.AdherenceRate = rate(stats.Taken, stats.Scheduled)
	stats.SkipRate = rate(stats.Skipped, stats.Scheduled)
}

func rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	r := float64(part) / float64(whole) * 100
	if r > 100 {
		r = 100
	}
	return float64(int(r*10+0.5)) / 10
}
