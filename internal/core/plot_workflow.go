package core

import (
	"context"
	"encoding/json"
	"time"

	"restorationcore/pkg/domain"
)

// CompletePlotInput is the field data submitted for one plot.
type CompletePlotInput struct {
	Notes string
	// ObservedAt defaults to the completion instant.
	ObservedAt *time.Time
	Plants     []RecordedPlant
	// Biomass is stored verbatim with the assignment.
	Biomass json.RawMessage
}

// ClaimPlot reserves a plot for the actor. Claiming a plot the actor already
// holds refreshes the claim time. The first claim moves an upcoming
// observation to InProgress.
func (s *Service) ClaimPlot(ctx context.Context, actor Actor, observationID, plotID string) (ObservationPlot, Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(observationID)); err != nil {
		return ObservationPlot{}, Result{}, err
	}
	var claimed ObservationPlot
	res, err := s.run(ctx, "claim_plot", actor, func(tx Transaction) (string, error) {
		obs, op, err := findOpenAssignment(tx, observationID, plotID)
		if err != nil {
			return observationID, err
		}
		if op.Status == domain.PlotClaimed && deref(op.ClaimedBy) != actor.ID {
			return observationID, domain.InvalidState(domain.ReasonPlotAlreadyClaimed, domain.EntityObservationPlot, plotID, "plot is claimed by another user")
		}
		now := tx.Now()
		claimed, err = tx.UpdateObservationPlot(observationID, plotID, func(p *ObservationPlot) error {
			p.Status = domain.PlotClaimed
			p.ClaimedBy = ptr(actor.ID)
			p.ClaimedAt = ptr(now)
			return nil
		})
		if err != nil {
			return observationID, err
		}
		_, err = startObservation(tx, obs)
		return observationID, err
	})
	return claimed, res, err
}

// ReleasePlot gives up the actor's claim on a plot.
func (s *Service) ReleasePlot(ctx context.Context, actor Actor, observationID, plotID string) (ObservationPlot, Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(observationID)); err != nil {
		return ObservationPlot{}, Result{}, err
	}
	var released ObservationPlot
	res, err := s.run(ctx, "release_plot", actor, func(tx Transaction) (string, error) {
		_, op, err := findOpenAssignment(tx, observationID, plotID)
		if err != nil {
			return observationID, err
		}
		if op.Status != domain.PlotClaimed {
			return observationID, domain.InvalidState(domain.ReasonPlotNotClaimed, domain.EntityObservationPlot, plotID, "plot is not claimed")
		}
		if deref(op.ClaimedBy) != actor.ID {
			return observationID, domain.InvalidState(domain.ReasonPlotAlreadyClaimed, domain.EntityObservationPlot, plotID, "plot is claimed by another user")
		}
		released, err = tx.UpdateObservationPlot(observationID, plotID, func(p *ObservationPlot) error {
			p.Status = domain.PlotUnclaimed
			p.ClaimedBy = nil
			p.ClaimedAt = nil
			return nil
		})
		return observationID, err
	})
	return released, res, err
}

// CompletePlot records the field data of a plot and updates the species
// totals at every level. The observation completes itself once no plot is
// left unclaimed or claimed.
func (s *Service) CompletePlot(ctx context.Context, actor Actor, observationID, plotID string, in CompletePlotInput) (ObservationPlot, Result, error) {
	obs, site, err := s.observationSite(ctx, observationID)
	if err != nil {
		return ObservationPlot{}, Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(obs.ID)); err != nil {
		return ObservationPlot{}, Result{}, err
	}
	if err := s.checkPlantSpecies(ctx, site.OrganizationID, in.Plants); err != nil {
		return ObservationPlot{}, Result{}, err
	}
	if len(in.Biomass) > 0 && !json.Valid(in.Biomass) {
		return ObservationPlot{}, Result{}, domain.InvalidArgument("", "biomass payload is not valid JSON")
	}
	var completed ObservationPlot
	res, err := s.run(ctx, "complete_plot", actor, func(tx Transaction) (string, error) {
		obs, op, err := findOpenAssignment(tx, observationID, plotID)
		if err != nil {
			return observationID, err
		}
		site, ok := tx.FindSite(obs.SiteID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityPlantingSite, obs.SiteID)
		}
		if obs, err = startObservation(tx, obs); err != nil {
			return observationID, err
		}
		if _, err := tx.ReplaceRecordedPlants(observationID, plotID, in.Plants); err != nil {
			return observationID, err
		}
		now := tx.Now()
		observedAt := now
		if in.ObservedAt != nil {
			observedAt = in.ObservedAt.UTC()
		}
		completed, err = tx.UpdateObservationPlot(observationID, plotID, func(p *ObservationPlot) error {
			p.Status = domain.PlotCompleted
			p.CompletedBy = ptr(actor.ID)
			p.CompletedAt = ptr(now)
			p.ObservedAt = ptr(observedAt)
			p.Notes = in.Notes
			p.Biomass = append(json.RawMessage(nil), in.Biomass...)
			return nil
		})
		if err != nil {
			return observationID, err
		}
		seed, err := seedFor(tx, obs, op)
		if err != nil {
			return observationID, err
		}
		keys, err := rebuildPlotTotals(tx, site, completed, seed)
		if err != nil {
			return observationID, err
		}
		if len(keys) > 0 {
			if err := rollUpObservation(tx, obs, keys); err != nil {
				return observationID, err
			}
		}
		if err := advanceSubzoneObservedAt(tx, obs, completed); err != nil {
			return observationID, err
		}
		if hasOpenPlots(tx.ListObservationPlots(observationID)) {
			return observationID, nil
		}
		_, err = completeObservation(tx, obs)
		return observationID, err
	})
	return completed, res, err
}

// findOpenAssignment loads an assignment that can still be claimed,
// released, or completed.
func findOpenAssignment(tx TransactionView, observationID, plotID string) (Observation, ObservationPlot, error) {
	obs, err := findActiveObservation(tx, observationID)
	if err != nil {
		return Observation{}, ObservationPlot{}, err
	}
	op, ok := tx.FindObservationPlot(observationID, plotID)
	if !ok {
		return Observation{}, ObservationPlot{}, domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
	}
	if op.Status.Terminal() {
		return Observation{}, ObservationPlot{}, domain.InvalidState(domain.ReasonPlotAlreadyCompleted, domain.EntityObservationPlot, plotID, "plot has already been completed")
	}
	return obs, op, nil
}

// startObservation moves an upcoming observation to InProgress and seeds its
// cumulative dead placeholders. Other states pass through.
func startObservation(tx Transaction, obs Observation) (Observation, error) {
	if obs.State != domain.ObservationUpcoming {
		return obs, nil
	}
	started, err := tx.UpdateObservation(obs.ID, func(o *Observation) error {
		o.State = domain.ObservationInProgress
		return nil
	})
	if err != nil {
		return Observation{}, err
	}
	return populateCumulativeDead(tx, started)
}

func hasOpenPlots(ops []ObservationPlot) bool {
	for _, op := range ops {
		if !op.Status.Terminal() {
			return true
		}
	}
	return false
}

// advanceSubzoneObservedAt stamps the subzone the plot was attributed to
// once none of the observation's plots in that subzone remain open.
func advanceSubzoneObservedAt(tx Transaction, obs Observation, op ObservationPlot) error {
	if obs.IsAdHoc || op.ObservedAt == nil {
		return nil
	}
	att, err := ResolveAttribution(tx, op)
	if err != nil {
		return err
	}
	if att.SubzoneID == "" {
		return nil
	}
	if _, ok := tx.FindSubzone(att.SubzoneID); !ok {
		return nil
	}
	for _, other := range tx.ListObservationPlots(obs.ID) {
		if other.Status.Terminal() {
			continue
		}
		otherAtt, err := ResolveAttribution(tx, other)
		if err != nil {
			return err
		}
		if otherAtt.SubzoneID == att.SubzoneID {
			return nil
		}
	}
	observedAt := *op.ObservedAt
	_, err = tx.UpdateSubzone(att.SubzoneID, func(z *PlantingSubzone) error {
		if z.ObservedAt == nil || observedAt.After(*z.ObservedAt) {
			z.ObservedAt = ptr(observedAt)
		}
		return nil
	})
	return err
}

// checkPlantSpecies verifies that every known species in plants is in the
// catalog and belongs to the organization.
func (s *Service) checkPlantSpecies(ctx context.Context, organizationID string, plants []RecordedPlant) error {
	seen := make(map[string]struct{})
	for _, p := range plants {
		if !p.Species.IsKnown() {
			continue
		}
		if _, ok := seen[p.Species.SpeciesID]; ok {
			continue
		}
		seen[p.Species.SpeciesID] = struct{}{}
		if _, err := s.resolveSpecies(ctx, organizationID, p.Species.SpeciesID); err != nil {
			return err
		}
	}
	return nil
}
