package core

import (
	"context"
	"strings"

	"restorationcore/pkg/domain"
)

// MergeScope selects which observations a species merge rewrites.
type MergeScope string

const (
	// MergeScopeObservation rewrites only the given observation.
	MergeScopeObservation MergeScope = "observation"
	// MergeScopeSite rewrites the given observation and every later one of the site.
	MergeScopeSite MergeScope = "site"
)

// EditPlotPlants replaces the plant set of a completed plot. The plot keeps
// the cumulative dead carry it was first computed with and only the edited
// observation is re-summed.
func (s *Service) EditPlotPlants(ctx context.Context, actor Actor, observationID, plotID string, plants []RecordedPlant) (Result, error) {
	obs, site, err := s.observationSite(ctx, observationID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(obs.ID)); err != nil {
		return Result{}, err
	}
	if err := s.checkPlantSpecies(ctx, site.OrganizationID, plants); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "edit_plot_plants", actor, func(tx Transaction) (string, error) {
		obs, ok := tx.FindObservation(observationID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityObservation, observationID)
		}
		site, ok := tx.FindSite(obs.SiteID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityPlantingSite, obs.SiteID)
		}
		op, ok := tx.FindObservationPlot(observationID, plotID)
		if !ok {
			return observationID, domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
		}
		if op.Status != domain.PlotCompleted {
			return observationID, domain.InvalidState(domain.ReasonPlotNotCompleted, domain.EntityObservationPlot, plotID, "only completed plots can be edited")
		}
		seed, err := seedFor(tx, obs, op)
		if err != nil {
			return observationID, err
		}
		if _, err := tx.ReplaceRecordedPlants(observationID, plotID, plants); err != nil {
			return observationID, err
		}
		keys, err := rebuildPlotTotals(tx, site, op, seed)
		if err != nil {
			return observationID, err
		}
		if len(keys) == 0 {
			return observationID, nil
		}
		return observationID, rollUpObservation(tx, obs, keys)
	})
}

// MergeOtherSpecies reassigns plants recorded under a free-text name to a
// catalog species. Carried cumulative dead of both keys is combined and the
// obsolete rows are removed at every level.
func (s *Service) MergeOtherSpecies(ctx context.Context, actor Actor, observationID, otherName, speciesID string, scope MergeScope) (Result, error) {
	obs, site, err := s.observationSite(ctx, observationID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(obs.ID)); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(otherName) == "" {
		return Result{}, domain.InvalidArgument("", "merge requires the recorded species name")
	}
	switch scope {
	case MergeScopeObservation, MergeScopeSite:
	default:
		return Result{}, domain.InvalidArgument("", "unknown merge scope %q", scope)
	}
	if _, err := s.resolveSpecies(ctx, site.OrganizationID, speciesID); err != nil {
		return Result{}, err
	}
	other := domain.OtherSpecies(otherName)
	target := domain.KnownSpecies(speciesID)
	return s.run(ctx, "merge_other_species", actor, func(tx Transaction) (string, error) {
		obs, ok := tx.FindObservation(observationID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityObservation, observationID)
		}
		site, ok := tx.FindSite(obs.SiteID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityPlantingSite, obs.SiteID)
		}
		targets := []Observation{obs}
		if scope == MergeScopeSite {
			targets = targets[:0]
			for _, candidate := range tx.ListObservations(obs.SiteID) {
				if candidate.Sequence >= obs.Sequence {
					targets = append(targets, candidate)
				}
			}
		}
		for _, o := range targets {
			if err := mergeInObservation(tx, site, o, other, target); err != nil {
				return observationID, err
			}
		}
		return observationID, nil
	})
}

func mergeInObservation(tx Transaction, site PlantingSite, obs Observation, other, target SpeciesKey) error {
	touched := false
	for _, op := range tx.ListObservationPlots(obs.ID) {
		existing := plotRows(tx, obs.ID, op.PlotID)
		otherRow, hasOther := existing[other]

		plants := tx.ListRecordedPlants(obs.ID, op.PlotID)
		renamed := false
		for i := range plants {
			if plants[i].Species == other {
				plants[i].Species = target
				renamed = true
			}
		}
		if !renamed && !hasOther {
			continue
		}
		touched = true
		if renamed {
			if _, err := tx.ReplaceRecordedPlants(obs.ID, op.PlotID, plants); err != nil {
				return err
			}
		}

		mergedSeed := 0
		if hasOther {
			mergedSeed += seedOf(otherRow)
		}
		targetRow, hasTarget := existing[target]
		if hasTarget {
			mergedSeed += seedOf(targetRow)
		}
		if hasOther && !hasTarget {
			// Give the target key a row so the rebuild below carries the merged seed.
			placeholder := SpeciesTotals{
				ObservationID:  obs.ID,
				Level:          domain.LevelPlot,
				ScopeID:        op.PlotID,
				Species:        target,
				CumulativeDead: mergedSeed,
			}
			finalizeRates(&placeholder)
			if _, err := tx.PutSpeciesTotals(placeholder); err != nil {
				return err
			}
		}
		fallback, err := seedFor(tx, obs, op)
		if err != nil {
			return err
		}
		seed := func(key SpeciesKey) int {
			switch key {
			case target:
				return mergedSeed
			case other:
				return 0
			}
			if row, ok := existing[key]; ok {
				return seedOf(row)
			}
			return fallback(key)
		}
		if _, err := rebuildPlotTotals(tx, site, op, seed); err != nil {
			return err
		}
	}
	if !touched {
		return nil
	}
	return rollUpObservation(tx, obs, map[SpeciesKey]struct{}{other: {}, target: {}})
}

// RemovePlotFromTotals withdraws a decommissioned plot from the aggregates
// of every observation it took part in. Its plot-level rows are kept.
func (s *Service) RemovePlotFromTotals(ctx context.Context, actor Actor, plotID string) (Result, error) {
	siteID, err := s.plotSite(ctx, plotID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(siteID)); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "remove_plot_from_totals", actor, func(tx Transaction) (string, error) {
		plot, ok := tx.FindPlot(plotID)
		if !ok {
			return plotID, domain.NotFound(domain.EntityMonitoringPlot, plotID)
		}
		if plot.IsAdHoc {
			return plotID, domain.InvalidArgument(domain.ReasonAdHocMismatch, "ad-hoc plot %s has no aggregate contribution to remove", plotID)
		}
		for _, op := range tx.ListPlotAssignments(plotID) {
			if op.ExcludedFromTotals {
				continue
			}
			rows := plotRows(tx, op.ObservationID, plotID)
			if op.Status != domain.PlotCompleted && len(rows) == 0 {
				continue
			}
			if _, err := tx.UpdateObservationPlot(op.ObservationID, plotID, func(p *ObservationPlot) error {
				p.ExcludedFromTotals = true
				return nil
			}); err != nil {
				return plotID, err
			}
			if len(rows) == 0 {
				continue
			}
			obs, ok := tx.FindObservation(op.ObservationID)
			if !ok {
				continue
			}
			if err := rollUpObservation(tx, obs, keySet(rows)); err != nil {
				return plotID, err
			}
		}
		return plotID, nil
	})
}
