package core

import (
	"context"
	"fmt"

	"medtrack/pkg/domain"
)

// ledgerIntegrityRule blocks tracking-record writes that would break ledger
// invariants: a record pointing at a medication absent from the post-commit
// view, an unknown dose status, or a skipped record without a recognized
// reason.
type ledgerIntegrityRule struct{}

func (ledgerIntegrityRule) Name() string { return "ledger_integrity" }

func (ledgerIntegrityRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Entity != EntityTrackingRecord || change.Action == domain.ActionDelete {
			continue
		}
		rec, ok := change.After.(TrackingRecord)
		if !ok {
			continue
		}
		if _, exists := view.FindMedication(rec.MedicationID); !exists {
			res.Violations = append(res.Violations, Violation{
				Rule:     "ledger_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("tracking record references missing medication %s", rec.MedicationID),
				Entity:   EntityTrackingRecord,
				EntityID: rec.SlotKey(),
			})
			continue
		}
		switch rec.Status {
		case StatusTaken:
		case StatusSkipped:
			if !rec.SkipReason.Valid() {
				res.Violations = append(res.Violations, Violation{
					Rule:     "ledger_integrity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("skipped record carries unrecognized reason %q", rec.SkipReason),
					Entity:   EntityTrackingRecord,
					EntityID: rec.SlotKey(),
				})
			}
		default:
			res.Violations = append(res.Violations, Violation{
				Rule:     "ledger_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unknown dose status %q", rec.Status),
				Entity:   EntityTrackingRecord,
				EntityID: rec.SlotKey(),
			})
		}
	}
	return res, nil
}
