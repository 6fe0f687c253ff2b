package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to snapshot data for rules and
// queries. List methods return deterministic orderings.
type TransactionView interface {
	FindSite(id string) (PlantingSite, bool)
	ListSites() []PlantingSite
	FindZone(id string) (PlantingZone, bool)
	ListZones(siteID string) []PlantingZone
	FindSubzone(id string) (PlantingSubzone, bool)
	ListSubzones(siteID string) []PlantingSubzone
	FindPlot(id string) (MonitoringPlot, bool)
	ListPlots(siteID string) []MonitoringPlot
	FindPlotHistory(id string) (MonitoringPlotHistory, bool)
	// LatestPlotHistory returns the history row of the plot's current epoch.
	LatestPlotHistory(plotID string) (MonitoringPlotHistory, bool)
	FindSpecies(id string) (Species, bool)
	ListSpecies(organizationID string) []Species
	FindObservation(id string) (Observation, bool)
	// ListObservations returns a site's observations ordered by Sequence.
	ListObservations(siteID string) []Observation
	FindObservationPlot(observationID, plotID string) (ObservationPlot, bool)
	ListObservationPlots(observationID string) []ObservationPlot
	// ListPlotAssignments returns every observation assignment of a plot.
	ListPlotAssignments(plotID string) []ObservationPlot
	ListRecordedPlants(observationID, plotID string) []RecordedPlant
	FindSpeciesTotals(observationID string, key TotalsKey) (SpeciesTotals, bool)
	ListSpeciesTotals(observationID string, level TotalsLevel) []SpeciesTotals
	ListPlotT0Densities(plotID string) []PlotT0Density
	ListZoneT0Densities(zoneID string) []ZoneT0Density
	FindPlotT0Observation(plotID string) (PlotT0Observation, bool)
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	// Now returns the transaction timestamp applied to CreatedAt/UpdatedAt.
	Now() time.Time

	CreateSite(PlantingSite) (PlantingSite, error)
	UpdateSite(id string, mutator func(*PlantingSite) error) (PlantingSite, error)
	CreateSiteHistory(PlantingSiteHistory) (PlantingSiteHistory, error)
	CreateZone(PlantingZone) (PlantingZone, error)
	UpdateZone(id string, mutator func(*PlantingZone) error) (PlantingZone, error)
	DeleteZone(id string) error
	CreateSubzone(PlantingSubzone) (PlantingSubzone, error)
	UpdateSubzone(id string, mutator func(*PlantingSubzone) error) (PlantingSubzone, error)
	DeleteSubzone(id string) error
	CreatePlot(MonitoringPlot) (MonitoringPlot, error)
	UpdatePlot(id string, mutator func(*MonitoringPlot) error) (MonitoringPlot, error)
	CreatePlotHistory(MonitoringPlotHistory) (MonitoringPlotHistory, error)
	CreateSpecies(Species) (Species, error)

	CreateObservation(Observation) (Observation, error)
	UpdateObservation(id string, mutator func(*Observation) error) (Observation, error)
	// DeleteObservation removes the observation with its assignments, plants, and totals.
	DeleteObservation(id string) error
	CreateObservationPlot(ObservationPlot) (ObservationPlot, error)
	UpdateObservationPlot(observationID, plotID string, mutator func(*ObservationPlot) error) (ObservationPlot, error)
	// DeleteObservationPlot removes the assignment and its recorded plants.
	DeleteObservationPlot(observationID, plotID string) error
	// ReplaceRecordedPlants swaps the full plant set of one plot in one observation.
	ReplaceRecordedPlants(observationID, plotID string, plants []RecordedPlant) ([]RecordedPlant, error)
	PutSpeciesTotals(SpeciesTotals) (SpeciesTotals, error)
	DeleteSpeciesTotals(observationID string, key TotalsKey) error

	PutPlotT0Density(PlotT0Density) error
	DeletePlotT0Density(plotID, speciesID string) error
	PutZoneT0Density(ZoneT0Density) error
	DeleteZoneT0Density(zoneID, speciesID string) error
	PutPlotT0Observation(PlotT0Observation) error
	DeletePlotT0Observation(plotID string) error
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
