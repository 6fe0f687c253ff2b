package core

import "restorationcore/pkg/domain"

type (
	EntityType            = domain.EntityType
	Severity              = domain.Severity
	Change                = domain.Change
	Action                = domain.Action
	Violation             = domain.Violation
	Result                = domain.Result
	RuleViolationError    = domain.RuleViolationError
	Rule                  = domain.Rule
	RulesEngine           = domain.RulesEngine
	Transaction           = domain.Transaction
	TransactionView       = domain.TransactionView
	PersistentStore       = domain.PersistentStore
	PlantingSite          = domain.PlantingSite
	PlantingSiteHistory   = domain.PlantingSiteHistory
	PlantingZone          = domain.PlantingZone
	PlantingSubzone       = domain.PlantingSubzone
	MonitoringPlot        = domain.MonitoringPlot
	MonitoringPlotHistory = domain.MonitoringPlotHistory
	Species               = domain.Species
	SpeciesKey            = domain.SpeciesKey
	Observation           = domain.Observation
	ObservationPlot       = domain.ObservationPlot
	RecordedPlant         = domain.RecordedPlant
	SpeciesTotals         = domain.SpeciesTotals
	TotalsKey             = domain.TotalsKey
	PlotT0Density         = domain.PlotT0Density
	ZoneT0Density         = domain.ZoneT0Density
	PlotT0Observation     = domain.PlotT0Observation
	ObservationState      = domain.ObservationState
	ObservationPlotStatus = domain.ObservationPlotStatus
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
