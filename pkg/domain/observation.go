package domain

import (
	"encoding/json"
	"time"
)

// ObservationState enumerates observation lifecycle states.
type ObservationState string

// Observation lifecycle states.
const (
	ObservationUpcoming   ObservationState = "upcoming"
	ObservationInProgress ObservationState = "in_progress"
	ObservationCompleted  ObservationState = "completed"
	ObservationAbandoned  ObservationState = "abandoned"
)

// Terminal reports whether no further plot activity may occur.
func (s ObservationState) Terminal() bool {
	return s == ObservationCompleted || s == ObservationAbandoned
}

// Valid reports whether s is a known state.
func (s ObservationState) Valid() bool {
	switch s {
	case ObservationUpcoming, ObservationInProgress, ObservationCompleted, ObservationAbandoned:
		return true
	}
	return false
}

// observationTransitions lists every permitted state change. InProgress to
// Upcoming is the reschedule path.
var observationTransitions = map[ObservationState][]ObservationState{
	ObservationUpcoming:   {ObservationInProgress},
	ObservationInProgress: {ObservationCompleted, ObservationAbandoned, ObservationUpcoming},
}

// CanTransition reports whether an observation may move from s to next.
// Staying in the same state is always allowed.
func (s ObservationState) CanTransition(next ObservationState) bool {
	if s == next {
		return true
	}
	for _, candidate := range observationTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ObservationType distinguishes standard monitoring from biomass measurement.
type ObservationType string

// Observation types.
const (
	ObservationTypeMonitoring ObservationType = "monitoring"
	ObservationTypeBiomass    ObservationType = "biomass"
)

// Observation is one visit cycle over a planting site.
type Observation struct {
	Base
	SiteID              string           `json:"site_id"`
	Type                ObservationType  `json:"type"`
	StartDate           time.Time        `json:"start_date"`
	EndDate             time.Time        `json:"end_date"`
	State               ObservationState `json:"state"`
	RequestedSubzoneIDs []string         `json:"requested_subzone_ids,omitempty"`
	IsAdHoc             bool             `json:"is_ad_hoc"`
	SiteHistoryID       string           `json:"site_history_id"`
	// Sequence orders observations by creation within a store.
	Sequence             int64      `json:"sequence"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CumulativeDeadSeeded bool       `json:"cumulative_dead_seeded"`
}

// ObservationPlotStatus enumerates per-plot workflow states.
type ObservationPlotStatus string

// Observation plot statuses.
const (
	PlotUnclaimed   ObservationPlotStatus = "unclaimed"
	PlotClaimed     ObservationPlotStatus = "claimed"
	PlotCompleted   ObservationPlotStatus = "completed"
	PlotNotObserved ObservationPlotStatus = "not_observed"
)

// Terminal reports whether the plot can no longer be claimed or completed.
func (s ObservationPlotStatus) Terminal() bool {
	return s == PlotCompleted || s == PlotNotObserved
}

// Valid reports whether s is a known status.
func (s ObservationPlotStatus) Valid() bool {
	switch s {
	case PlotUnclaimed, PlotClaimed, PlotCompleted, PlotNotObserved:
		return true
	}
	return false
}

var plotTransitions = map[ObservationPlotStatus][]ObservationPlotStatus{
	PlotUnclaimed: {PlotClaimed, PlotCompleted, PlotNotObserved},
	PlotClaimed:   {PlotUnclaimed, PlotCompleted, PlotNotObserved},
}

// CanTransition reports whether a plot assignment may move from s to next.
func (s ObservationPlotStatus) CanTransition(next ObservationPlotStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range plotTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ObservationPlot joins an observation and a monitoring plot.
type ObservationPlot struct {
	ObservationID string                `json:"observation_id"`
	PlotID        string                `json:"plot_id"`
	PlotHistoryID string                `json:"plot_history_id"`
	Status        ObservationPlotStatus `json:"status"`
	IsPermanent   bool                  `json:"is_permanent"`
	ClaimedBy     *string               `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time            `json:"claimed_at,omitempty"`
	CompletedBy   *string               `json:"completed_by,omitempty"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
	ObservedAt    *time.Time            `json:"observed_at,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	// Biomass holds the biomass measurement document; stored, never aggregated.
	Biomass            json.RawMessage `json:"biomass,omitempty"`
	ExcludedFromTotals bool            `json:"excluded_from_totals"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PlantStatus is the recorded condition of one plant.
type PlantStatus string

// Recorded plant statuses.
const (
	PlantLive     PlantStatus = "live"
	PlantDead     PlantStatus = "dead"
	PlantExisting PlantStatus = "existing"
)

// Valid reports whether s is a known status.
func (s PlantStatus) Valid() bool {
	return s == PlantLive || s == PlantDead || s == PlantExisting
}

// Position is a WGS84 point.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RecordedPlant is one raw plant record.
type RecordedPlant struct {
	ID            string      `json:"id"`
	ObservationID string      `json:"observation_id"`
	PlotID        string      `json:"plot_id"`
	Species       SpeciesKey  `json:"species"`
	Status        PlantStatus `json:"status"`
	Position      Position    `json:"position"`
}

// TotalsLevel is the aggregation level of a totals row.
type TotalsLevel string

// Aggregation levels, from finest to coarsest.
const (
	LevelPlot    TotalsLevel = "plot"
	LevelSubzone TotalsLevel = "subzone"
	LevelZone    TotalsLevel = "zone"
	LevelSite    TotalsLevel = "site"
)

// TotalsKey identifies a totals row within one observation.
type TotalsKey struct {
	Level   TotalsLevel `json:"level"`
	ScopeID string      `json:"scope_id"`
	Species SpeciesKey  `json:"species"`
}

// SpeciesTotals is the per-species aggregate for one observation and scope.
// SurvivalLive and T0Density hold the survival numerator and denominator so
// that aggregate rates are recomputed from sums.
type SpeciesTotals struct {
	ObservationID  string      `json:"observation_id"`
	Level          TotalsLevel `json:"level"`
	ScopeID        string      `json:"scope_id"`
	Species        SpeciesKey  `json:"species"`
	TotalLive      int         `json:"total_live"`
	TotalDead      int         `json:"total_dead"`
	TotalExisting  int         `json:"total_existing"`
	MortalityRate  *int        `json:"mortality_rate,omitempty"`
	CumulativeDead int         `json:"cumulative_dead"`
	PermanentLive  int         `json:"permanent_live"`
	SurvivalLive   int         `json:"survival_live"`
	T0Density      float64     `json:"t0_density"`
	SurvivalRate   *int        `json:"survival_rate,omitempty"`
}

// Key returns the row's identity within its observation.
func (t SpeciesTotals) Key() TotalsKey {
	return TotalsKey{Level: t.Level, ScopeID: t.ScopeID, Species: t.Species}
}
