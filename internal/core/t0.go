package core

import (
	"context"
	"math"
	"sort"

	"restorationcore/pkg/domain"
)

// SpeciesDensity is one species' baseline planting density.
type SpeciesDensity struct {
	SpeciesID string
	Density   float64
}

// PlotT0Data is the baseline of one permanent plot.
type PlotT0Data struct {
	PlotID string
	// ObservationID is set when the baseline was captured from an observation.
	ObservationID *string
	Densities     []SpeciesDensity
}

// ZoneT0Data is the baseline applied to temporary plots of one zone.
type ZoneT0Data struct {
	ZoneID    string
	Densities []SpeciesDensity
}

// SiteT0Data groups every baseline of a site.
type SiteT0Data struct {
	SiteID string
	Plots  []PlotT0Data
	Zones  []ZoneT0Data
}

// AssignT0PlotObservation captures a plot's baseline from a completed
// observation: each known species gets live plus dead as its density. The
// previous densities of the plot are replaced.
func (s *Service) AssignT0PlotObservation(ctx context.Context, actor Actor, plotID, observationID string) (Result, error) {
	siteID, err := s.plotSite(ctx, plotID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateT0, siteTarget(siteID)); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "assign_t0_plot_observation", actor, func(tx Transaction) (string, error) {
		site, plot, err := findT0Plot(tx, plotID)
		if err != nil {
			return plotID, err
		}
		obs, ok := tx.FindObservation(observationID)
		if !ok {
			return plotID, domain.NotFound(domain.EntityObservation, observationID)
		}
		if obs.SiteID != plot.SiteID {
			return plotID, domain.InvalidArgument(domain.ReasonSiteMismatch, "observation %s is not part of site %s", observationID, plot.SiteID)
		}
		op, ok := tx.FindObservationPlot(observationID, plotID)
		if !ok {
			return plotID, domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
		}
		if op.Status != domain.PlotCompleted {
			return plotID, domain.InvalidState(domain.ReasonPlotNotCompleted, domain.EntityObservationPlot, plotID, "plot was not completed in observation %s", observationID)
		}
		var densities []SpeciesDensity
		for _, key := range sortedKeys(keySet(plotRows(tx, observationID, plotID))) {
			if !key.IsKnown() {
				continue
			}
			row, _ := tx.FindSpeciesTotals(observationID, TotalsKey{Level: domain.LevelPlot, ScopeID: plotID, Species: key})
			if n := row.TotalLive + row.TotalDead; n > 0 {
				densities = append(densities, SpeciesDensity{SpeciesID: key.SpeciesID, Density: float64(n)})
			}
		}
		if err := replacePlotDensities(tx, plotID, densities, ptr(observationID)); err != nil {
			return plotID, err
		}
		if err := tx.PutPlotT0Observation(PlotT0Observation{PlotID: plotID, ObservationID: observationID}); err != nil {
			return plotID, err
		}
		return plotID, refreshSurvival(tx, site, tx.ListPlotAssignments(plotID))
	})
}

// AssignT0PlotDensities replaces a permanent plot's baseline with manually
// entered densities and drops any designated baseline observation.
func (s *Service) AssignT0PlotDensities(ctx context.Context, actor Actor, plotID string, densities []SpeciesDensity) (Result, error) {
	siteID, err := s.plotSite(ctx, plotID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateT0, siteTarget(siteID)); err != nil {
		return Result{}, err
	}
	if err := s.checkDensities(ctx, siteID, densities); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "assign_t0_plot_densities", actor, func(tx Transaction) (string, error) {
		site, plot, err := findT0Plot(tx, plotID)
		if err != nil {
			return plotID, err
		}
		if !plot.IsPermanent {
			return plotID, domain.InvalidArgument(domain.ReasonPlotNotPermanent, "plot %s is not a permanent plot", plotID)
		}
		if err := replacePlotDensities(tx, plotID, densities, nil); err != nil {
			return plotID, err
		}
		if _, ok := tx.FindPlotT0Observation(plotID); ok {
			if err := tx.DeletePlotT0Observation(plotID); err != nil {
				return plotID, err
			}
		}
		return plotID, refreshSurvival(tx, site, tx.ListPlotAssignments(plotID))
	})
}

// AssignT0ZoneDensities replaces the baseline used by temporary plots of a
// zone when the site counts them toward survival.
func (s *Service) AssignT0ZoneDensities(ctx context.Context, actor Actor, zoneID string, densities []SpeciesDensity) (Result, error) {
	siteID, err := s.zoneSite(ctx, zoneID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateT0, siteTarget(siteID)); err != nil {
		return Result{}, err
	}
	if err := s.checkDensities(ctx, siteID, densities); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "assign_t0_zone_densities", actor, func(tx Transaction) (string, error) {
		site, ok := tx.FindSite(siteID)
		if !ok {
			return zoneID, domain.NotFound(domain.EntityPlantingSite, siteID)
		}
		if _, ok := tx.FindZone(zoneID); !ok {
			return zoneID, domain.NotFound(domain.EntityPlantingZone, zoneID)
		}
		want := make(map[string]float64, len(densities))
		for _, d := range densities {
			want[d.SpeciesID] = d.Density
		}
		now := tx.Now()
		for _, d := range tx.ListZoneT0Densities(zoneID) {
			if _, ok := want[d.SpeciesID]; !ok {
				if err := tx.DeleteZoneT0Density(zoneID, d.SpeciesID); err != nil {
					return zoneID, err
				}
			}
		}
		for _, id := range sortedStrings(want) {
			if err := tx.PutZoneT0Density(ZoneT0Density{ZoneID: zoneID, SpeciesID: id, Density: want[id], UpdatedAt: now}); err != nil {
				return zoneID, err
			}
		}
		if !site.SurvivalRateIncludesTempPlots {
			return zoneID, nil
		}
		var affected []ObservationPlot
		for _, plot := range tx.ListPlots(siteID) {
			for _, op := range tx.ListPlotAssignments(plot.ID) {
				if op.IsPermanent {
					continue
				}
				att, err := ResolveAttribution(tx, op)
				if err != nil {
					return zoneID, err
				}
				if att.ZoneID == zoneID {
					affected = append(affected, op)
				}
			}
		}
		return zoneID, refreshSurvival(tx, site, affected)
	})
}

// GetSiteT0Data returns the plot and zone baselines of a site.
func (s *Service) GetSiteT0Data(ctx context.Context, actor Actor, siteID string) (SiteT0Data, error) {
	if err := s.authorize(ctx, actor, CapReadSite, "", siteTarget(siteID)); err != nil {
		return SiteT0Data{}, err
	}
	data := SiteT0Data{SiteID: siteID}
	err := s.view(ctx, "get_site_t0_data", actor, func(view TransactionView) error {
		if _, ok := view.FindSite(siteID); !ok {
			return domain.NotFound(domain.EntityPlantingSite, siteID)
		}
		for _, plot := range view.ListPlots(siteID) {
			densities := view.ListPlotT0Densities(plot.ID)
			t0, hasObs := view.FindPlotT0Observation(plot.ID)
			if len(densities) == 0 && !hasObs {
				continue
			}
			entry := PlotT0Data{PlotID: plot.ID}
			if hasObs {
				entry.ObservationID = ptr(t0.ObservationID)
			}
			for _, d := range densities {
				entry.Densities = append(entry.Densities, SpeciesDensity{SpeciesID: d.SpeciesID, Density: d.Density})
			}
			data.Plots = append(data.Plots, entry)
		}
		for _, zone := range view.ListZones(siteID) {
			densities := view.ListZoneT0Densities(zone.ID)
			if len(densities) == 0 {
				continue
			}
			entry := ZoneT0Data{ZoneID: zone.ID}
			for _, d := range densities {
				entry.Densities = append(entry.Densities, SpeciesDensity{SpeciesID: d.SpeciesID, Density: d.Density})
			}
			data.Zones = append(data.Zones, entry)
		}
		return nil
	})
	return data, err
}

func findT0Plot(view TransactionView, plotID string) (PlantingSite, MonitoringPlot, error) {
	plot, ok := view.FindPlot(plotID)
	if !ok {
		return PlantingSite{}, MonitoringPlot{}, domain.NotFound(domain.EntityMonitoringPlot, plotID)
	}
	site, ok := view.FindSite(plot.SiteID)
	if !ok {
		return PlantingSite{}, MonitoringPlot{}, domain.NotFound(domain.EntityPlantingSite, plot.SiteID)
	}
	return site, plot, nil
}

// checkDensities rejects negative or non-finite values, duplicate species,
// and species outside the site's organization.
func (s *Service) checkDensities(ctx context.Context, siteID string, densities []SpeciesDensity) error {
	var organizationID string
	if err := s.store.View(ctx, func(view TransactionView) error {
		site, ok := view.FindSite(siteID)
		if !ok {
			return domain.NotFound(domain.EntityPlantingSite, siteID)
		}
		organizationID = site.OrganizationID
		return nil
	}); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(densities))
	for _, d := range densities {
		if d.Density < 0 || math.IsNaN(d.Density) || math.IsInf(d.Density, 0) {
			return domain.InvalidArgument(domain.ReasonInvalidDensity, "density for species %s must be a non-negative number", d.SpeciesID)
		}
		if _, dup := seen[d.SpeciesID]; dup {
			return domain.InvalidArgument(domain.ReasonInvalidDensity, "species %s listed more than once", d.SpeciesID)
		}
		seen[d.SpeciesID] = struct{}{}
		if _, err := s.resolveSpecies(ctx, organizationID, d.SpeciesID); err != nil {
			return err
		}
	}
	return nil
}

func replacePlotDensities(tx Transaction, plotID string, densities []SpeciesDensity, observationID *string) error {
	want := make(map[string]float64, len(densities))
	for _, d := range densities {
		want[d.SpeciesID] = d.Density
	}
	for _, d := range tx.ListPlotT0Densities(plotID) {
		if _, ok := want[d.SpeciesID]; !ok {
			if err := tx.DeletePlotT0Density(plotID, d.SpeciesID); err != nil {
				return err
			}
		}
	}
	now := tx.Now()
	for _, id := range sortedStrings(want) {
		d := PlotT0Density{PlotID: plotID, SpeciesID: id, Density: want[id], UpdatedAt: now}
		if observationID != nil {
			d.ObservationID = ptr(*observationID)
		}
		if err := tx.PutPlotT0Density(d); err != nil {
			return err
		}
	}
	return nil
}

// refreshSurvival rebuilds the plot rows of the given completed assignments
// against the current baselines and re-sums their observations. Counts and
// cumulative dead are unchanged; only the survival inputs move.
func refreshSurvival(tx Transaction, site PlantingSite, ops []ObservationPlot) error {
	byObservation := make(map[string]map[SpeciesKey]struct{})
	for _, op := range ops {
		if op.Status != domain.PlotCompleted {
			continue
		}
		obs, ok := tx.FindObservation(op.ObservationID)
		if !ok {
			continue
		}
		seed, err := seedFor(tx, obs, op)
		if err != nil {
			return err
		}
		keys, err := rebuildPlotTotals(tx, site, op, seed)
		if err != nil {
			return err
		}
		byObservation[obs.ID] = mergeKeys(byObservation[obs.ID], keys)
	}
	ids := make([]string, 0, len(byObservation))
	for id := range byObservation {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if len(byObservation[id]) == 0 {
			continue
		}
		obs, _ := tx.FindObservation(id)
		if err := rollUpObservation(tx, obs, byObservation[id]); err != nil {
			return err
		}
	}
	return nil
}

// insertObservedSpeciesDensities adds zero baselines for species observed at
// permanent plots that already carry baseline data, so every observed
// species appears in the plot's baseline.
func insertObservedSpeciesDensities(tx Transaction, obs Observation) error {
	if obs.IsAdHoc {
		return nil
	}
	now := tx.Now()
	for _, op := range tx.ListObservationPlots(obs.ID) {
		if !op.IsPermanent || op.Status != domain.PlotCompleted {
			continue
		}
		existing := tx.ListPlotT0Densities(op.PlotID)
		if len(existing) == 0 {
			continue
		}
		have := make(map[string]struct{}, len(existing))
		for _, d := range existing {
			have[d.SpeciesID] = struct{}{}
		}
		observed := make(map[SpeciesKey]struct{})
		for key := range countPlants(tx.ListRecordedPlants(obs.ID, op.PlotID)) {
			observed[key] = struct{}{}
		}
		for _, key := range sortedKeys(observed) {
			if !key.IsKnown() {
				continue
			}
			if _, ok := have[key.SpeciesID]; ok {
				continue
			}
			if err := tx.PutPlotT0Density(PlotT0Density{PlotID: op.PlotID, SpeciesID: key.SpeciesID, UpdatedAt: now}); err != nil {
				return err
			}
		}
	}
	return nil
}
