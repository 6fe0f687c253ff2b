package memory

import (
	"encoding/json"
	"slices"
	"sort"

	"restorationcore/pkg/domain"
)

type (
	// PlantingSite aliases domain.PlantingSite for in-memory persistence operations.
	PlantingSite = domain.PlantingSite
	// PlantingSiteHistory aliases domain.PlantingSiteHistory.
	PlantingSiteHistory = domain.PlantingSiteHistory
	// PlantingZone aliases domain.PlantingZone.
	PlantingZone = domain.PlantingZone
	// PlantingSubzone aliases domain.PlantingSubzone.
	PlantingSubzone = domain.PlantingSubzone
	// MonitoringPlot aliases domain.MonitoringPlot.
	MonitoringPlot = domain.MonitoringPlot
	// MonitoringPlotHistory aliases domain.MonitoringPlotHistory.
	MonitoringPlotHistory = domain.MonitoringPlotHistory
	// Species aliases domain.Species.
	Species = domain.Species
	// Observation aliases domain.Observation.
	Observation = domain.Observation
	// ObservationPlot aliases domain.ObservationPlot.
	ObservationPlot = domain.ObservationPlot
	// RecordedPlant aliases domain.RecordedPlant.
	RecordedPlant = domain.RecordedPlant
	// SpeciesTotals aliases domain.SpeciesTotals.
	SpeciesTotals = domain.SpeciesTotals
	// TotalsKey aliases domain.TotalsKey.
	TotalsKey = domain.TotalsKey
	// PlotT0Density aliases domain.PlotT0Density.
	PlotT0Density = domain.PlotT0Density
	// ZoneT0Density aliases domain.ZoneT0Density.
	ZoneT0Density = domain.ZoneT0Density
	// PlotT0Observation aliases domain.PlotT0Observation.
	PlotT0Observation = domain.PlotT0Observation
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	sites          map[string]PlantingSite
	siteHistories  map[string]PlantingSiteHistory
	zones          map[string]PlantingZone
	subzones       map[string]PlantingSubzone
	plots          map[string]MonitoringPlot
	plotHistories  map[string]MonitoringPlotHistory
	latestHistory  map[string]string
	species        map[string]Species
	observations   map[string]Observation
	assignments    map[string]map[string]ObservationPlot
	plotIndex      map[string]map[string]struct{}
	plants         map[string]map[string][]RecordedPlant
	totals         map[string]map[TotalsKey]SpeciesTotals
	plotT0         map[string]map[string]PlotT0Density
	zoneT0         map[string]map[string]ZoneT0Density
	t0Observations map[string]PlotT0Observation
	sequence       int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Sites               map[string]PlantingSite          `json:"sites"`
	SiteHistories       map[string]PlantingSiteHistory   `json:"site_histories"`
	Zones               map[string]PlantingZone          `json:"zones"`
	Subzones            map[string]PlantingSubzone       `json:"subzones"`
	Plots               map[string]MonitoringPlot        `json:"plots"`
	PlotHistories       map[string]MonitoringPlotHistory `json:"plot_histories"`
	LatestPlotHistories map[string]string                `json:"latest_plot_histories"`
	Species             map[string]Species               `json:"species"`
	Observations        map[string]Observation           `json:"observations"`
	ObservationPlots    []ObservationPlot                `json:"observation_plots"`
	RecordedPlants      []RecordedPlant                  `json:"recorded_plants"`
	SpeciesTotals       []SpeciesTotals                  `json:"species_totals"`
	PlotT0Densities     []PlotT0Density                  `json:"plot_t0_densities"`
	ZoneT0Densities     []ZoneT0Density                  `json:"zone_t0_densities"`
	PlotT0Observations  map[string]PlotT0Observation     `json:"plot_t0_observations"`
	Sequence            int64                            `json:"sequence"`
}

func newMemoryState() memoryState {
	return memoryState{
		sites:          make(map[string]PlantingSite),
		siteHistories:  make(map[string]PlantingSiteHistory),
		zones:          make(map[string]PlantingZone),
		subzones:       make(map[string]PlantingSubzone),
		plots:          make(map[string]MonitoringPlot),
		plotHistories:  make(map[string]MonitoringPlotHistory),
		latestHistory:  make(map[string]string),
		species:        make(map[string]Species),
		observations:   make(map[string]Observation),
		assignments:    make(map[string]map[string]ObservationPlot),
		plotIndex:      make(map[string]map[string]struct{}),
		plants:         make(map[string]map[string][]RecordedPlant),
		totals:         make(map[string]map[TotalsKey]SpeciesTotals),
		plotT0:         make(map[string]map[string]PlotT0Density),
		zoneT0:         make(map[string]map[string]ZoneT0Density),
		t0Observations: make(map[string]PlotT0Observation),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Sites:               make(map[string]PlantingSite, len(state.sites)),
		SiteHistories:       make(map[string]PlantingSiteHistory, len(state.siteHistories)),
		Zones:               make(map[string]PlantingZone, len(state.zones)),
		Subzones:            make(map[string]PlantingSubzone, len(state.subzones)),
		Plots:               make(map[string]MonitoringPlot, len(state.plots)),
		PlotHistories:       make(map[string]MonitoringPlotHistory, len(state.plotHistories)),
		LatestPlotHistories: make(map[string]string, len(state.latestHistory)),
		Species:             make(map[string]Species, len(state.species)),
		Observations:        make(map[string]Observation, len(state.observations)),
		PlotT0Observations:  make(map[string]PlotT0Observation, len(state.t0Observations)),
		Sequence:            state.sequence,
	}
	for id, v := range state.sites {
		s.Sites[id] = v
	}
	for id, v := range state.siteHistories {
		s.SiteHistories[id] = v
	}
	for id, v := range state.zones {
		s.Zones[id] = v
	}
	for id, v := range state.subzones {
		s.Subzones[id] = cloneSubzone(v)
	}
	for id, v := range state.plots {
		s.Plots[id] = clonePlot(v)
	}
	for id, v := range state.plotHistories {
		s.PlotHistories[id] = cloneHistory(v)
	}
	for id, v := range state.latestHistory {
		s.LatestPlotHistories[id] = v
	}
	for id, v := range state.species {
		s.Species[id] = v
	}
	for id, v := range state.observations {
		s.Observations[id] = cloneObservation(v)
	}
	for _, byPlot := range state.assignments {
		for _, op := range byPlot {
			s.ObservationPlots = append(s.ObservationPlots, cloneObservationPlot(op))
		}
	}
	sort.Slice(s.ObservationPlots, func(i, j int) bool {
		a, b := s.ObservationPlots[i], s.ObservationPlots[j]
		if a.ObservationID != b.ObservationID {
			return a.ObservationID < b.ObservationID
		}
		return a.PlotID < b.PlotID
	})
	for _, byPlot := range state.plants {
		for _, plants := range byPlot {
			s.RecordedPlants = append(s.RecordedPlants, plants...)
		}
	}
	sort.Slice(s.RecordedPlants, func(i, j int) bool { return s.RecordedPlants[i].ID < s.RecordedPlants[j].ID })
	for _, rows := range state.totals {
		for _, row := range rows {
			s.SpeciesTotals = append(s.SpeciesTotals, cloneTotals(row))
		}
	}
	sort.Slice(s.SpeciesTotals, func(i, j int) bool { return totalsLess(s.SpeciesTotals[i], s.SpeciesTotals[j]) })
	for _, bySpecies := range state.plotT0 {
		for _, d := range bySpecies {
			s.PlotT0Densities = append(s.PlotT0Densities, clonePlotDensity(d))
		}
	}
	sort.Slice(s.PlotT0Densities, func(i, j int) bool {
		a, b := s.PlotT0Densities[i], s.PlotT0Densities[j]
		if a.PlotID != b.PlotID {
			return a.PlotID < b.PlotID
		}
		return a.SpeciesID < b.SpeciesID
	})
	for _, bySpecies := range state.zoneT0 {
		for _, d := range bySpecies {
			s.ZoneT0Densities = append(s.ZoneT0Densities, d)
		}
	}
	sort.Slice(s.ZoneT0Densities, func(i, j int) bool {
		a, b := s.ZoneT0Densities[i], s.ZoneT0Densities[j]
		if a.ZoneID != b.ZoneID {
			return a.ZoneID < b.ZoneID
		}
		return a.SpeciesID < b.SpeciesID
	})
	for id, v := range state.t0Observations {
		s.PlotT0Observations[id] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for id, v := range s.Sites {
		state.sites[id] = v
	}
	for id, v := range s.SiteHistories {
		state.siteHistories[id] = v
	}
	for id, v := range s.Zones {
		state.zones[id] = v
	}
	for id, v := range s.Subzones {
		state.subzones[id] = cloneSubzone(v)
	}
	for id, v := range s.Plots {
		state.plots[id] = clonePlot(v)
	}
	for id, v := range s.PlotHistories {
		state.plotHistories[id] = cloneHistory(v)
	}
	for id, v := range s.LatestPlotHistories {
		state.latestHistory[id] = v
	}
	for id, v := range s.Species {
		state.species[id] = v
	}
	for id, v := range s.Observations {
		state.observations[id] = cloneObservation(v)
	}
	for _, op := range s.ObservationPlots {
		state.putAssignment(cloneObservationPlot(op))
	}
	for _, p := range s.RecordedPlants {
		byPlot := state.plants[p.ObservationID]
		if byPlot == nil {
			byPlot = make(map[string][]RecordedPlant)
			state.plants[p.ObservationID] = byPlot
		}
		byPlot[p.PlotID] = append(byPlot[p.PlotID], p)
	}
	for _, row := range s.SpeciesTotals {
		state.putTotals(cloneTotals(row))
	}
	for _, d := range s.PlotT0Densities {
		state.putPlotDensity(clonePlotDensity(d))
	}
	for _, d := range s.ZoneT0Densities {
		state.putZoneDensity(d)
	}
	for id, v := range s.PlotT0Observations {
		state.t0Observations[id] = v
	}
	state.sequence = s.Sequence
	return state
}

// migrateSnapshot normalizes snapshots written by older builds: missing or
// dangling latest-history pointers are derived from creation time and the
// sequence counter never trails existing observations.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.LatestPlotHistories == nil {
		snapshot.LatestPlotHistories = make(map[string]string)
	}
	for plotID, id := range snapshot.LatestPlotHistories {
		if _, ok := snapshot.PlotHistories[id]; !ok {
			delete(snapshot.LatestPlotHistories, plotID)
		}
	}
	derived := make(map[string]MonitoringPlotHistory)
	for _, h := range snapshot.PlotHistories {
		if _, ok := snapshot.LatestPlotHistories[h.PlotID]; ok {
			continue
		}
		current, seen := derived[h.PlotID]
		if !seen || current.CreatedAt.Before(h.CreatedAt) || (current.CreatedAt.Equal(h.CreatedAt) && current.ID < h.ID) {
			derived[h.PlotID] = h
		}
	}
	for plotID, h := range derived {
		snapshot.LatestPlotHistories[plotID] = h.ID
	}
	for _, o := range snapshot.Observations {
		if o.Sequence > snapshot.Sequence {
			snapshot.Sequence = o.Sequence
		}
	}
	for i := range snapshot.ObservationPlots {
		if snapshot.ObservationPlots[i].Status == "" {
			snapshot.ObservationPlots[i].Status = domain.PlotUnclaimed
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for id, v := range s.sites {
		cloned.sites[id] = v
	}
	for id, v := range s.siteHistories {
		cloned.siteHistories[id] = v
	}
	for id, v := range s.zones {
		cloned.zones[id] = v
	}
	for id, v := range s.subzones {
		cloned.subzones[id] = cloneSubzone(v)
	}
	for id, v := range s.plots {
		cloned.plots[id] = clonePlot(v)
	}
	for id, v := range s.plotHistories {
		cloned.plotHistories[id] = v
	}
	for id, v := range s.latestHistory {
		cloned.latestHistory[id] = v
	}
	for id, v := range s.species {
		cloned.species[id] = v
	}
	for id, v := range s.observations {
		cloned.observations[id] = cloneObservation(v)
	}
	for obsID, byPlot := range s.assignments {
		cp := make(map[string]ObservationPlot, len(byPlot))
		for plotID, op := range byPlot {
			cp[plotID] = cloneObservationPlot(op)
		}
		cloned.assignments[obsID] = cp
	}
	for plotID, obs := range s.plotIndex {
		cp := make(map[string]struct{}, len(obs))
		for id := range obs {
			cp[id] = struct{}{}
		}
		cloned.plotIndex[plotID] = cp
	}
	for obsID, byPlot := range s.plants {
		cp := make(map[string][]RecordedPlant, len(byPlot))
		for plotID, plants := range byPlot {
			cp[plotID] = slices.Clone(plants)
		}
		cloned.plants[obsID] = cp
	}
	for obsID, rows := range s.totals {
		cp := make(map[TotalsKey]SpeciesTotals, len(rows))
		for key, row := range rows {
			cp[key] = cloneTotals(row)
		}
		cloned.totals[obsID] = cp
	}
	for plotID, bySpecies := range s.plotT0 {
		cp := make(map[string]PlotT0Density, len(bySpecies))
		for speciesID, d := range bySpecies {
			cp[speciesID] = clonePlotDensity(d)
		}
		cloned.plotT0[plotID] = cp
	}
	for zoneID, bySpecies := range s.zoneT0 {
		cp := make(map[string]ZoneT0Density, len(bySpecies))
		for speciesID, d := range bySpecies {
			cp[speciesID] = d
		}
		cloned.zoneT0[zoneID] = cp
	}
	for id, v := range s.t0Observations {
		cloned.t0Observations[id] = v
	}
	cloned.sequence = s.sequence
	return cloned
}

func (s *memoryState) putAssignment(op ObservationPlot) {
	byPlot := s.assignments[op.ObservationID]
	if byPlot == nil {
		byPlot = make(map[string]ObservationPlot)
		s.assignments[op.ObservationID] = byPlot
	}
	byPlot[op.PlotID] = op
	idx := s.plotIndex[op.PlotID]
	if idx == nil {
		idx = make(map[string]struct{})
		s.plotIndex[op.PlotID] = idx
	}
	idx[op.ObservationID] = struct{}{}
}

func (s *memoryState) removeAssignment(observationID, plotID string) {
	if byPlot := s.assignments[observationID]; byPlot != nil {
		delete(byPlot, plotID)
		if len(byPlot) == 0 {
			delete(s.assignments, observationID)
		}
	}
	if idx := s.plotIndex[plotID]; idx != nil {
		delete(idx, observationID)
		if len(idx) == 0 {
			delete(s.plotIndex, plotID)
		}
	}
	if byPlot := s.plants[observationID]; byPlot != nil {
		delete(byPlot, plotID)
		if len(byPlot) == 0 {
			delete(s.plants, observationID)
		}
	}
}

func (s *memoryState) putTotals(row SpeciesTotals) {
	rows := s.totals[row.ObservationID]
	if rows == nil {
		rows = make(map[TotalsKey]SpeciesTotals)
		s.totals[row.ObservationID] = rows
	}
	rows[row.Key()] = row
}

func (s *memoryState) putPlotDensity(d PlotT0Density) {
	bySpecies := s.plotT0[d.PlotID]
	if bySpecies == nil {
		bySpecies = make(map[string]PlotT0Density)
		s.plotT0[d.PlotID] = bySpecies
	}
	bySpecies[d.SpeciesID] = d
}

func (s *memoryState) putZoneDensity(d ZoneT0Density) {
	bySpecies := s.zoneT0[d.ZoneID]
	if bySpecies == nil {
		bySpecies = make(map[string]ZoneT0Density)
		s.zoneT0[d.ZoneID] = bySpecies
	}
	bySpecies[d.SpeciesID] = d
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSubzone(z PlantingSubzone) PlantingSubzone {
	if z.PlantingCompletedAt != nil {
		t := *z.PlantingCompletedAt
		z.PlantingCompletedAt = &t
	}
	if z.ObservedAt != nil {
		t := *z.ObservedAt
		z.ObservedAt = &t
	}
	return z
}

func clonePlot(p MonitoringPlot) MonitoringPlot {
	p.SubzoneID = cloneStringPtr(p.SubzoneID)
	p.OverlapsPlotIDs = slices.Clone(p.OverlapsPlotIDs)
	p.OverlappedByPlotIDs = slices.Clone(p.OverlappedByPlotIDs)
	return p
}

func cloneHistory(h MonitoringPlotHistory) MonitoringPlotHistory {
	h.SubzoneID = cloneStringPtr(h.SubzoneID)
	h.ZoneID = cloneStringPtr(h.ZoneID)
	return h
}

func cloneObservation(o Observation) Observation {
	o.RequestedSubzoneIDs = slices.Clone(o.RequestedSubzoneIDs)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	return o
}

func cloneObservationPlot(op ObservationPlot) ObservationPlot {
	op.ClaimedBy = cloneStringPtr(op.ClaimedBy)
	op.CompletedBy = cloneStringPtr(op.CompletedBy)
	if op.ClaimedAt != nil {
		t := *op.ClaimedAt
		op.ClaimedAt = &t
	}
	if op.CompletedAt != nil {
		t := *op.CompletedAt
		op.CompletedAt = &t
	}
	if op.ObservedAt != nil {
		t := *op.ObservedAt
		op.ObservedAt = &t
	}
	if op.Biomass != nil {
		op.Biomass = append(json.RawMessage(nil), op.Biomass...)
	}
	return op
}

func cloneTotals(t SpeciesTotals) SpeciesTotals {
	if t.MortalityRate != nil {
		v := *t.MortalityRate
		t.MortalityRate = &v
	}
	if t.SurvivalRate != nil {
		v := *t.SurvivalRate
		t.SurvivalRate = &v
	}
	return t
}

func clonePlotDensity(d PlotT0Density) PlotT0Density {
	d.ObservationID = cloneStringPtr(d.ObservationID)
	return d
}

func totalsLess(a, b SpeciesTotals) bool {
	if a.ObservationID != b.ObservationID {
		return a.ObservationID < b.ObservationID
	}
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if a.ScopeID != b.ScopeID {
		return a.ScopeID < b.ScopeID
	}
	return a.Species.Compare(b.Species) < 0
}
