package core

import "medtrack/pkg/domain"

type (
	EntityType         = domain.EntityType
	TimeWindow         = domain.TimeWindow
	Weekday            = domain.Weekday
	SkipReason         = domain.SkipReason
	DoseStatus         = domain.DoseStatus
	Date               = domain.Date
	ClockTime          = domain.ClockTime
	Base               = domain.Base
	Medication         = domain.Medication
	TrackingRecord     = domain.TrackingRecord
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleView           = domain.RuleView
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityMedication     = domain.EntityMedication
	EntityTrackingRecord = domain.EntityTrackingRecord
)

const (
	WindowMorning   = domain.WindowMorning
	WindowAfternoon = domain.WindowAfternoon
	WindowEvening   = domain.WindowEvening
	WindowNight     = domain.WindowNight
)

const (
	StatusTaken   = domain.StatusTaken
	StatusSkipped = domain.StatusSkipped
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
