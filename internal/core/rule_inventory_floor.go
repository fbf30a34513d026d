package core

import (
	"context"
	"fmt"

	"medtrack/pkg/domain"
)

// inventoryFloorRule blocks any commit that would leave a medication with a
// negative pill count. Writers are expected to floor decrements at zero; this
// rule is the backstop that keeps a buggy caller from corrupting inventory.
type inventoryFloorRule struct{}

func (inventoryFloorRule) Name() string { return "inventory_floor" }

func (inventoryFloorRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Entity != EntityMedication || change.Action == domain.ActionDelete {
			continue
		}
		med, ok := change.After.(Medication)
		if !ok {
			continue
		}
		if med.PillsRemaining < 0 {
			res.Violations = append(res.Violations, Violation{
				Rule:     "inventory_floor",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("pills remaining would be %d; inventory cannot go negative", med.PillsRemaining),
				Entity:   EntityMedication,
				EntityID: med.ID,
			})
		}
	}
	return res, nil
}
