package memory

import (
	"fmt"
	"slices"

	"restorationcore/pkg/domain"
)

// CreateSite stores a new planting site.
func (tx *transaction) CreateSite(site PlantingSite) (PlantingSite, error) {
	if site.ID == "" {
		site.ID = tx.store.newID()
	}
	if _, exists := tx.state.sites[site.ID]; exists {
		return PlantingSite{}, fmt.Errorf("planting site %q already exists", site.ID)
	}
	site.CreatedAt = tx.now
	site.UpdatedAt = tx.now
	tx.state.sites[site.ID] = site
	tx.recordChange(Change{Entity: domain.EntityPlantingSite, Action: domain.ActionCreate, After: site})
	return site, nil
}

// UpdateSite mutates an existing planting site.
func (tx *transaction) UpdateSite(id string, mutator func(*PlantingSite) error) (PlantingSite, error) {
	current, ok := tx.state.sites[id]
	if !ok {
		return PlantingSite{}, domain.NotFound(domain.EntityPlantingSite, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return PlantingSite{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.sites[id] = current
	tx.recordChange(Change{Entity: domain.EntityPlantingSite, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateSiteHistory appends a site-history epoch.
func (tx *transaction) CreateSiteHistory(h PlantingSiteHistory) (PlantingSiteHistory, error) {
	if _, ok := tx.state.sites[h.SiteID]; !ok {
		return PlantingSiteHistory{}, domain.NotFound(domain.EntityPlantingSite, h.SiteID)
	}
	if h.ID == "" {
		h.ID = tx.store.newID()
	}
	if _, exists := tx.state.siteHistories[h.ID]; exists {
		return PlantingSiteHistory{}, fmt.Errorf("site history %q already exists", h.ID)
	}
	h.CreatedAt = tx.now
	tx.state.siteHistories[h.ID] = h
	tx.recordChange(Change{Entity: domain.EntitySiteHistory, Action: domain.ActionCreate, After: h})
	return h, nil
}

// CreateZone stores a new planting zone.
func (tx *transaction) CreateZone(z PlantingZone) (PlantingZone, error) {
	if _, ok := tx.state.sites[z.SiteID]; !ok {
		return PlantingZone{}, domain.NotFound(domain.EntityPlantingSite, z.SiteID)
	}
	if z.ID == "" {
		z.ID = tx.store.newID()
	}
	if _, exists := tx.state.zones[z.ID]; exists {
		return PlantingZone{}, fmt.Errorf("planting zone %q already exists", z.ID)
	}
	z.CreatedAt = tx.now
	z.UpdatedAt = tx.now
	tx.state.zones[z.ID] = z
	tx.recordChange(Change{Entity: domain.EntityPlantingZone, Action: domain.ActionCreate, After: z})
	return z, nil
}

// UpdateZone mutates an existing planting zone.
func (tx *transaction) UpdateZone(id string, mutator func(*PlantingZone) error) (PlantingZone, error) {
	current, ok := tx.state.zones[id]
	if !ok {
		return PlantingZone{}, domain.NotFound(domain.EntityPlantingZone, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return PlantingZone{}, err
	}
	current.ID = id
	current.SiteID = before.SiteID
	current.UpdatedAt = tx.now
	tx.state.zones[id] = current
	tx.recordChange(Change{Entity: domain.EntityPlantingZone, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteZone removes a zone that no longer owns subzones.
func (tx *transaction) DeleteZone(id string) error {
	current, ok := tx.state.zones[id]
	if !ok {
		return domain.NotFound(domain.EntityPlantingZone, id)
	}
	for _, subzone := range tx.state.subzones {
		if subzone.ZoneID == id {
			return fmt.Errorf("planting zone %q still owns subzone %q", id, subzone.ID)
		}
	}
	delete(tx.state.zoneT0, id)
	delete(tx.state.zones, id)
	tx.recordChange(Change{Entity: domain.EntityPlantingZone, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateSubzone stores a new planting subzone.
func (tx *transaction) CreateSubzone(z PlantingSubzone) (PlantingSubzone, error) {
	zone, ok := tx.state.zones[z.ZoneID]
	if !ok {
		return PlantingSubzone{}, domain.NotFound(domain.EntityPlantingZone, z.ZoneID)
	}
	if z.SiteID == "" {
		z.SiteID = zone.SiteID
	}
	if z.SiteID != zone.SiteID {
		return PlantingSubzone{}, fmt.Errorf("subzone site %q does not match zone site %q", z.SiteID, zone.SiteID)
	}
	if z.ID == "" {
		z.ID = tx.store.newID()
	}
	if _, exists := tx.state.subzones[z.ID]; exists {
		return PlantingSubzone{}, fmt.Errorf("planting subzone %q already exists", z.ID)
	}
	if z.FullName == "" {
		z.FullName = zone.Name + "-" + z.Name
	}
	z.CreatedAt = tx.now
	z.UpdatedAt = tx.now
	tx.state.subzones[z.ID] = cloneSubzone(z)
	tx.recordChange(Change{Entity: domain.EntityPlantingSubzone, Action: domain.ActionCreate, After: cloneSubzone(z)})
	return cloneSubzone(z), nil
}

// UpdateSubzone mutates an existing planting subzone.
func (tx *transaction) UpdateSubzone(id string, mutator func(*PlantingSubzone) error) (PlantingSubzone, error) {
	current, ok := tx.state.subzones[id]
	if !ok {
		return PlantingSubzone{}, domain.NotFound(domain.EntityPlantingSubzone, id)
	}
	before := cloneSubzone(current)
	if err := mutator(&current); err != nil {
		return PlantingSubzone{}, err
	}
	if _, ok := tx.state.zones[current.ZoneID]; !ok {
		return PlantingSubzone{}, domain.NotFound(domain.EntityPlantingZone, current.ZoneID)
	}
	current.ID = id
	current.SiteID = before.SiteID
	current.UpdatedAt = tx.now
	tx.state.subzones[id] = cloneSubzone(current)
	tx.recordChange(Change{Entity: domain.EntityPlantingSubzone, Action: domain.ActionUpdate, Before: before, After: cloneSubzone(current)})
	return cloneSubzone(current), nil
}

// DeleteSubzone removes a subzone no plot references any longer.
func (tx *transaction) DeleteSubzone(id string) error {
	current, ok := tx.state.subzones[id]
	if !ok {
		return domain.NotFound(domain.EntityPlantingSubzone, id)
	}
	for _, plot := range tx.state.plots {
		if plot.SubzoneID != nil && *plot.SubzoneID == id {
			return fmt.Errorf("planting subzone %q still contains plot %q", id, plot.ID)
		}
	}
	delete(tx.state.subzones, id)
	tx.recordChange(Change{Entity: domain.EntityPlantingSubzone, Action: domain.ActionDelete, Before: cloneSubzone(current)})
	return nil
}

func (tx *transaction) validatePlotRefs(p MonitoringPlot) error {
	if _, ok := tx.state.sites[p.SiteID]; !ok {
		return domain.NotFound(domain.EntityPlantingSite, p.SiteID)
	}
	if p.SubzoneID != nil {
		subzone, ok := tx.state.subzones[*p.SubzoneID]
		if !ok {
			return domain.NotFound(domain.EntityPlantingSubzone, *p.SubzoneID)
		}
		if subzone.SiteID != p.SiteID {
			return fmt.Errorf("plot subzone %q belongs to site %q, not %q", subzone.ID, subzone.SiteID, p.SiteID)
		}
	}
	for _, other := range append(slices.Clone(p.OverlapsPlotIDs), p.OverlappedByPlotIDs...) {
		if other == p.ID {
			return fmt.Errorf("plot %q cannot overlap itself", p.ID)
		}
		if _, ok := tx.state.plots[other]; !ok {
			return domain.NotFound(domain.EntityMonitoringPlot, other)
		}
	}
	return nil
}

// CreatePlot stores a new monitoring plot. Overlap references are mirrored on
// the referenced plots.
func (tx *transaction) CreatePlot(p MonitoringPlot) (MonitoringPlot, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.plots[p.ID]; exists {
		return MonitoringPlot{}, fmt.Errorf("monitoring plot %q already exists", p.ID)
	}
	if err := tx.validatePlotRefs(p); err != nil {
		return MonitoringPlot{}, err
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.plots[p.ID] = clonePlot(p)
	tx.recordChange(Change{Entity: domain.EntityMonitoringPlot, Action: domain.ActionCreate, After: clonePlot(p)})
	for _, older := range p.OverlapsPlotIDs {
		if _, err := tx.UpdatePlot(older, func(o *MonitoringPlot) error {
			if !slices.Contains(o.OverlappedByPlotIDs, p.ID) {
				o.OverlappedByPlotIDs = append(o.OverlappedByPlotIDs, p.ID)
			}
			return nil
		}); err != nil {
			return MonitoringPlot{}, err
		}
	}
	for _, newer := range p.OverlappedByPlotIDs {
		if _, err := tx.UpdatePlot(newer, func(o *MonitoringPlot) error {
			if !slices.Contains(o.OverlapsPlotIDs, p.ID) {
				o.OverlapsPlotIDs = append(o.OverlapsPlotIDs, p.ID)
			}
			return nil
		}); err != nil {
			return MonitoringPlot{}, err
		}
	}
	return clonePlot(p), nil
}

// UpdatePlot mutates an existing monitoring plot.
func (tx *transaction) UpdatePlot(id string, mutator func(*MonitoringPlot) error) (MonitoringPlot, error) {
	current, ok := tx.state.plots[id]
	if !ok {
		return MonitoringPlot{}, domain.NotFound(domain.EntityMonitoringPlot, id)
	}
	before := clonePlot(current)
	current = clonePlot(current)
	if err := mutator(&current); err != nil {
		return MonitoringPlot{}, err
	}
	current.ID = id
	current.SiteID = before.SiteID
	if err := tx.validatePlotRefs(current); err != nil {
		return MonitoringPlot{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.plots[id] = clonePlot(current)
	tx.recordChange(Change{Entity: domain.EntityMonitoringPlot, Action: domain.ActionUpdate, Before: before, After: clonePlot(current)})
	return clonePlot(current), nil
}

// CreatePlotHistory appends an immutable history row and makes it the plot's
// latest epoch.
func (tx *transaction) CreatePlotHistory(h MonitoringPlotHistory) (MonitoringPlotHistory, error) {
	plot, ok := tx.state.plots[h.PlotID]
	if !ok {
		return MonitoringPlotHistory{}, domain.NotFound(domain.EntityMonitoringPlot, h.PlotID)
	}
	if _, ok := tx.state.siteHistories[h.SiteHistoryID]; !ok {
		return MonitoringPlotHistory{}, domain.NotFound(domain.EntitySiteHistory, h.SiteHistoryID)
	}
	if h.ID == "" {
		h.ID = tx.store.newID()
	}
	if _, exists := tx.state.plotHistories[h.ID]; exists {
		return MonitoringPlotHistory{}, fmt.Errorf("plot history %q already exists", h.ID)
	}
	h.SiteID = plot.SiteID
	h.CreatedAt = tx.now
	tx.state.plotHistories[h.ID] = cloneHistory(h)
	tx.state.latestHistory[h.PlotID] = h.ID
	tx.recordChange(Change{Entity: domain.EntityPlotHistory, Action: domain.ActionCreate, After: cloneHistory(h)})
	return cloneHistory(h), nil
}

// CreateSpecies stores a species catalog entry.
func (tx *transaction) CreateSpecies(sp Species) (Species, error) {
	if sp.ID == "" {
		sp.ID = tx.store.newID()
	}
	if _, exists := tx.state.species[sp.ID]; exists {
		return Species{}, fmt.Errorf("species %q already exists", sp.ID)
	}
	sp.CreatedAt = tx.now
	sp.UpdatedAt = tx.now
	tx.state.species[sp.ID] = sp
	tx.recordChange(Change{Entity: domain.EntitySpecies, Action: domain.ActionCreate, After: sp})
	return sp, nil
}

// CreateObservation stores a new observation and assigns its sequence number.
func (tx *transaction) CreateObservation(o Observation) (Observation, error) {
	if _, ok := tx.state.sites[o.SiteID]; !ok {
		return Observation{}, domain.NotFound(domain.EntityPlantingSite, o.SiteID)
	}
	if o.ID == "" {
		o.ID = tx.store.newID()
	}
	if _, exists := tx.state.observations[o.ID]; exists {
		return Observation{}, fmt.Errorf("observation %q already exists", o.ID)
	}
	if o.State == "" {
		o.State = domain.ObservationUpcoming
	}
	tx.state.sequence++
	o.Sequence = tx.state.sequence
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.observations[o.ID] = cloneObservation(o)
	tx.recordChange(Change{Entity: domain.EntityObservation, Action: domain.ActionCreate, After: cloneObservation(o)})
	return cloneObservation(o), nil
}

// UpdateObservation mutates an existing observation.
func (tx *transaction) UpdateObservation(id string, mutator func(*Observation) error) (Observation, error) {
	current, ok := tx.state.observations[id]
	if !ok {
		return Observation{}, domain.NotFound(domain.EntityObservation, id)
	}
	before := cloneObservation(current)
	current = cloneObservation(current)
	if err := mutator(&current); err != nil {
		return Observation{}, err
	}
	current.ID = id
	current.SiteID = before.SiteID
	current.Sequence = before.Sequence
	current.IsAdHoc = before.IsAdHoc
	current.UpdatedAt = tx.now
	tx.state.observations[id] = cloneObservation(current)
	tx.recordChange(Change{Entity: domain.EntityObservation, Action: domain.ActionUpdate, Before: before, After: cloneObservation(current)})
	return cloneObservation(current), nil
}

// DeleteObservation removes an observation together with its assignments,
// recorded plants, and totals.
func (tx *transaction) DeleteObservation(id string) error {
	current, ok := tx.state.observations[id]
	if !ok {
		return domain.NotFound(domain.EntityObservation, id)
	}
	for plotID := range tx.state.assignments[id] {
		if err := tx.DeleteObservationPlot(id, plotID); err != nil {
			return err
		}
	}
	for key, row := range tx.state.totals[id] {
		tx.recordChange(Change{Entity: domain.EntitySpeciesTotals, Action: domain.ActionDelete, Before: cloneTotals(row)})
		delete(tx.state.totals[id], key)
	}
	delete(tx.state.totals, id)
	for plotID, t0 := range tx.state.t0Observations {
		if t0.ObservationID == id {
			delete(tx.state.t0Observations, plotID)
		}
	}
	delete(tx.state.observations, id)
	tx.recordChange(Change{Entity: domain.EntityObservation, Action: domain.ActionDelete, Before: cloneObservation(current)})
	return nil
}

// CreateObservationPlot assigns a plot to an observation. A second assignment
// of the same plot is rejected as a duplicate.
func (tx *transaction) CreateObservationPlot(op ObservationPlot) (ObservationPlot, error) {
	if _, ok := tx.state.observations[op.ObservationID]; !ok {
		return ObservationPlot{}, domain.NotFound(domain.EntityObservation, op.ObservationID)
	}
	if _, ok := tx.state.plots[op.PlotID]; !ok {
		return ObservationPlot{}, domain.NotFound(domain.EntityMonitoringPlot, op.PlotID)
	}
	history, ok := tx.state.plotHistories[op.PlotHistoryID]
	if !ok {
		return ObservationPlot{}, domain.NotFound(domain.EntityPlotHistory, op.PlotHistoryID)
	}
	if history.PlotID != op.PlotID {
		return ObservationPlot{}, fmt.Errorf("plot history %q belongs to plot %q, not %q", history.ID, history.PlotID, op.PlotID)
	}
	if _, exists := tx.state.assignments[op.ObservationID][op.PlotID]; exists {
		return ObservationPlot{}, domain.InvalidArgument(domain.ReasonDuplicateAssignment, "plot %s is already assigned to observation %s", op.PlotID, op.ObservationID)
	}
	if op.Status == "" {
		op.Status = domain.PlotUnclaimed
	}
	op.CreatedAt = tx.now
	op.UpdatedAt = tx.now
	tx.state.putAssignment(cloneObservationPlot(op))
	tx.recordChange(Change{Entity: domain.EntityObservationPlot, Action: domain.ActionCreate, After: cloneObservationPlot(op)})
	return cloneObservationPlot(op), nil
}

// UpdateObservationPlot mutates an existing plot assignment. Identity and the
// bound history snapshot are immutable.
func (tx *transaction) UpdateObservationPlot(observationID, plotID string, mutator func(*ObservationPlot) error) (ObservationPlot, error) {
	current, ok := tx.state.assignments[observationID][plotID]
	if !ok {
		return ObservationPlot{}, domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
	}
	before := cloneObservationPlot(current)
	current = cloneObservationPlot(current)
	if err := mutator(&current); err != nil {
		return ObservationPlot{}, err
	}
	current.ObservationID = observationID
	current.PlotID = plotID
	current.PlotHistoryID = before.PlotHistoryID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.putAssignment(cloneObservationPlot(current))
	tx.recordChange(Change{Entity: domain.EntityObservationPlot, Action: domain.ActionUpdate, Before: before, After: cloneObservationPlot(current)})
	return cloneObservationPlot(current), nil
}

// DeleteObservationPlot removes an assignment and its recorded plants.
func (tx *transaction) DeleteObservationPlot(observationID, plotID string) error {
	current, ok := tx.state.assignments[observationID][plotID]
	if !ok {
		return domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
	}
	plants := tx.state.plants[observationID][plotID]
	if len(plants) > 0 {
		tx.recordChange(Change{Entity: domain.EntityRecordedPlant, Action: domain.ActionDelete, Before: slices.Clone(plants)})
	}
	tx.state.removeAssignment(observationID, plotID)
	tx.recordChange(Change{Entity: domain.EntityObservationPlot, Action: domain.ActionDelete, Before: cloneObservationPlot(current)})
	return nil
}

// ReplaceRecordedPlants swaps the full plant set recorded for one plot.
func (tx *transaction) ReplaceRecordedPlants(observationID, plotID string, plants []RecordedPlant) ([]RecordedPlant, error) {
	if _, ok := tx.state.assignments[observationID][plotID]; !ok {
		return nil, domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
	}
	stored := make([]RecordedPlant, 0, len(plants))
	for _, p := range plants {
		if err := p.Species.Validate(); err != nil {
			return nil, err
		}
		if !p.Status.Valid() {
			return nil, domain.InvalidArgument("", "invalid plant status %q", p.Status)
		}
		if p.Species.IsKnown() {
			if _, ok := tx.state.species[p.Species.SpeciesID]; !ok {
				return nil, domain.NotFound(domain.EntitySpecies, p.Species.SpeciesID)
			}
		}
		if p.ID == "" {
			p.ID = tx.store.newID()
		}
		p.ObservationID = observationID
		p.PlotID = plotID
		stored = append(stored, p)
	}
	before := slices.Clone(tx.state.plants[observationID][plotID])
	byPlot := tx.state.plants[observationID]
	if byPlot == nil {
		byPlot = make(map[string][]RecordedPlant)
		tx.state.plants[observationID] = byPlot
	}
	if len(stored) == 0 {
		delete(byPlot, plotID)
	} else {
		byPlot[plotID] = stored
	}
	action := domain.ActionUpdate
	if len(before) == 0 {
		action = domain.ActionCreate
	}
	tx.recordChange(Change{Entity: domain.EntityRecordedPlant, Action: action, Before: before, After: slices.Clone(stored)})
	return slices.Clone(stored), nil
}

// PutSpeciesTotals inserts or replaces a totals row.
func (tx *transaction) PutSpeciesTotals(row SpeciesTotals) (SpeciesTotals, error) {
	if _, ok := tx.state.observations[row.ObservationID]; !ok {
		return SpeciesTotals{}, domain.NotFound(domain.EntityObservation, row.ObservationID)
	}
	if err := row.Species.Validate(); err != nil {
		return SpeciesTotals{}, err
	}
	if row.ScopeID == "" {
		return SpeciesTotals{}, fmt.Errorf("species totals require a scope id")
	}
	before, existed := tx.state.totals[row.ObservationID][row.Key()]
	tx.state.putTotals(cloneTotals(row))
	change := Change{Entity: domain.EntitySpeciesTotals, Action: domain.ActionCreate, After: cloneTotals(row)}
	if existed {
		change.Action = domain.ActionUpdate
		change.Before = cloneTotals(before)
	}
	tx.recordChange(change)
	return cloneTotals(row), nil
}

// DeleteSpeciesTotals removes a totals row; deleting a missing row is a no-op.
func (tx *transaction) DeleteSpeciesTotals(observationID string, key TotalsKey) error {
	rows := tx.state.totals[observationID]
	row, ok := rows[key]
	if !ok {
		return nil
	}
	delete(rows, key)
	if len(rows) == 0 {
		delete(tx.state.totals, observationID)
	}
	tx.recordChange(Change{Entity: domain.EntitySpeciesTotals, Action: domain.ActionDelete, Before: cloneTotals(row)})
	return nil
}

// PutPlotT0Density inserts or replaces a plot baseline density.
func (tx *transaction) PutPlotT0Density(d PlotT0Density) error {
	if _, ok := tx.state.plots[d.PlotID]; !ok {
		return domain.NotFound(domain.EntityMonitoringPlot, d.PlotID)
	}
	if _, ok := tx.state.species[d.SpeciesID]; !ok {
		return domain.NotFound(domain.EntitySpecies, d.SpeciesID)
	}
	before, existed := tx.state.plotT0[d.PlotID][d.SpeciesID]
	d.UpdatedAt = tx.now
	tx.state.putPlotDensity(clonePlotDensity(d))
	change := Change{Entity: domain.EntityPlotT0Density, Action: domain.ActionCreate, After: clonePlotDensity(d)}
	if existed {
		change.Action = domain.ActionUpdate
		change.Before = clonePlotDensity(before)
	}
	tx.recordChange(change)
	return nil
}

// DeletePlotT0Density removes a plot baseline density if present.
func (tx *transaction) DeletePlotT0Density(plotID, speciesID string) error {
	bySpecies := tx.state.plotT0[plotID]
	d, ok := bySpecies[speciesID]
	if !ok {
		return nil
	}
	delete(bySpecies, speciesID)
	if len(bySpecies) == 0 {
		delete(tx.state.plotT0, plotID)
	}
	tx.recordChange(Change{Entity: domain.EntityPlotT0Density, Action: domain.ActionDelete, Before: clonePlotDensity(d)})
	return nil
}

// PutZoneT0Density inserts or replaces a zone baseline density.
func (tx *transaction) PutZoneT0Density(d ZoneT0Density) error {
	if _, ok := tx.state.zones[d.ZoneID]; !ok {
		return domain.NotFound(domain.EntityPlantingZone, d.ZoneID)
	}
	if _, ok := tx.state.species[d.SpeciesID]; !ok {
		return domain.NotFound(domain.EntitySpecies, d.SpeciesID)
	}
	before, existed := tx.state.zoneT0[d.ZoneID][d.SpeciesID]
	d.UpdatedAt = tx.now
	tx.state.putZoneDensity(d)
	change := Change{Entity: domain.EntityZoneT0Density, Action: domain.ActionCreate, After: d}
	if existed {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.recordChange(change)
	return nil
}

// DeleteZoneT0Density removes a zone baseline density if present.
func (tx *transaction) DeleteZoneT0Density(zoneID, speciesID string) error {
	bySpecies := tx.state.zoneT0[zoneID]
	d, ok := bySpecies[speciesID]
	if !ok {
		return nil
	}
	delete(bySpecies, speciesID)
	if len(bySpecies) == 0 {
		delete(tx.state.zoneT0, zoneID)
	}
	tx.recordChange(Change{Entity: domain.EntityZoneT0Density, Action: domain.ActionDelete, Before: d})
	return nil
}

// PutPlotT0Observation designates the baseline observation of a plot.
func (tx *transaction) PutPlotT0Observation(t0 PlotT0Observation) error {
	if _, ok := tx.state.plots[t0.PlotID]; !ok {
		return domain.NotFound(domain.EntityMonitoringPlot, t0.PlotID)
	}
	if _, ok := tx.state.observations[t0.ObservationID]; !ok {
		return domain.NotFound(domain.EntityObservation, t0.ObservationID)
	}
	t0.UpdatedAt = tx.now
	tx.state.t0Observations[t0.PlotID] = t0
	return nil
}

// DeletePlotT0Observation clears a plot's baseline observation.
func (tx *transaction) DeletePlotT0Observation(plotID string) error {
	delete(tx.state.t0Observations, plotID)
	return nil
}
