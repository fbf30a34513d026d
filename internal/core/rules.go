package core

import "medtrack/pkg/domain"

// NewDefaultRulesEngine returns the engine with the standard invariant rules
// registered. Every store constructed for production or tests should use it
// unless a test specifically exercises rule behavior in isolation.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(inventoryFloorRule{})
	engine.Register(ledgerIntegrityRule{})
	return engine
}
