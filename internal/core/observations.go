package core

import (
	"context"
	"time"

	"restorationcore/pkg/domain"
)

// ObservationInput describes a scheduled observation.
type ObservationInput struct {
	SiteID              string
	Type                domain.ObservationType
	StartDate           time.Time
	EndDate             time.Time
	RequestedSubzoneIDs []string
}

func (in ObservationInput) validate() error {
	if in.SiteID == "" {
		return domain.InvalidArgument("", "observation requires a planting site")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return domain.InvalidArgument("", "observation requires start and end dates")
	}
	if in.EndDate.Before(in.StartDate) {
		return domain.InvalidArgument("", "observation end date %s is before start date %s", in.EndDate.Format(time.DateOnly), in.StartDate.Format(time.DateOnly))
	}
	switch in.Type {
	case "", domain.ObservationTypeMonitoring, domain.ObservationTypeBiomass:
	default:
		return domain.InvalidArgument("", "unknown observation type %q", in.Type)
	}
	return nil
}

func (in ObservationInput) observation(site PlantingSite, adHoc bool) Observation {
	obsType := in.Type
	if obsType == "" {
		obsType = domain.ObservationTypeMonitoring
	}
	return Observation{
		SiteID:              site.ID,
		Type:                obsType,
		StartDate:           in.StartDate,
		EndDate:             in.EndDate,
		State:               domain.ObservationUpcoming,
		RequestedSubzoneIDs: append([]string(nil), in.RequestedSubzoneIDs...),
		IsAdHoc:             adHoc,
		SiteHistoryID:       site.CurrentHistoryID,
	}
}

// CreateObservation schedules a non-ad-hoc observation of a site.
func (s *Service) CreateObservation(ctx context.Context, actor Actor, in ObservationInput) (Observation, Result, error) {
	if err := s.authorize(ctx, actor, CapReadSite, CapManageObservation, siteTarget(in.SiteID)); err != nil {
		return Observation{}, Result{}, err
	}
	if err := in.validate(); err != nil {
		return Observation{}, Result{}, err
	}
	var created Observation
	res, err := s.run(ctx, "create_observation", actor, func(tx Transaction) (string, error) {
		site, ok := tx.FindSite(in.SiteID)
		if !ok {
			return "", domain.NotFound(domain.EntityPlantingSite, in.SiteID)
		}
		for _, id := range in.RequestedSubzoneIDs {
			subzone, ok := tx.FindSubzone(id)
			if !ok {
				return "", domain.NotFound(domain.EntityPlantingSubzone, id)
			}
			if subzone.SiteID != site.ID {
				return "", domain.InvalidArgument(domain.ReasonSiteMismatch, "subzone %s is not part of site %s", id, site.ID)
			}
		}
		var err error
		created, err = tx.CreateObservation(in.observation(site, false))
		return created.ID, err
	})
	return created, res, err
}

// AssignPlots adds non-ad-hoc plots of the observation's site. Each
// assignment is bound to the plot's current history snapshot. When the
// observation has already been seeded, the new plots are seeded too.
func (s *Service) AssignPlots(ctx context.Context, actor Actor, observationID string, plotIDs []string, isPermanent bool) (Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapManageObservation, observationTarget(observationID)); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "assign_plots", actor, func(tx Transaction) (string, error) {
		obs, err := findActiveObservation(tx, observationID)
		if err != nil {
			return observationID, err
		}
		for _, plotID := range plotIDs {
			if err := assignPlot(tx, obs, plotID, isPermanent); err != nil {
				return observationID, err
			}
		}
		if obs.CumulativeDeadSeeded {
			_, err = populateCumulativeDead(tx, obs)
		}
		return observationID, err
	})
}

func assignPlot(tx Transaction, obs Observation, plotID string, isPermanent bool) error {
	plot, ok := tx.FindPlot(plotID)
	if !ok {
		return domain.NotFound(domain.EntityMonitoringPlot, plotID)
	}
	if plot.SiteID != obs.SiteID {
		return domain.InvalidArgument(domain.ReasonSiteMismatch, "plot %s is not part of site %s", plotID, obs.SiteID)
	}
	if plot.IsAdHoc != obs.IsAdHoc {
		return domain.InvalidArgument(domain.ReasonAdHocMismatch, "plot %s ad-hoc=%t cannot join observation %s ad-hoc=%t", plotID, plot.IsAdHoc, obs.ID, obs.IsAdHoc)
	}
	if isPermanent && !plot.IsPermanent {
		return domain.InvalidArgument(domain.ReasonPlotNotPermanent, "plot %s is not a permanent plot", plotID)
	}
	history, ok := tx.LatestPlotHistory(plotID)
	if !ok {
		return domain.NotFound(domain.EntityPlotHistory, plotID)
	}
	_, err := tx.CreateObservationPlot(ObservationPlot{
		ObservationID: obs.ID,
		PlotID:        plotID,
		PlotHistoryID: history.ID,
		Status:        domain.PlotUnclaimed,
		IsPermanent:   isPermanent,
	})
	return err
}

// AdHocObservationInput describes a one-off observation of a single ad-hoc plot.
type AdHocObservationInput struct {
	ObservationInput
	PlotID string
}

// ScheduleAdHocObservation creates an ad-hoc observation together with its
// single plot assignment.
func (s *Service) ScheduleAdHocObservation(ctx context.Context, actor Actor, in AdHocObservationInput) (Observation, Result, error) {
	if err := s.authorize(ctx, actor, CapReadSite, CapManageObservation, siteTarget(in.SiteID)); err != nil {
		return Observation{}, Result{}, err
	}
	if err := in.validate(); err != nil {
		return Observation{}, Result{}, err
	}
	var created Observation
	res, err := s.run(ctx, "schedule_ad_hoc_observation", actor, func(tx Transaction) (string, error) {
		site, ok := tx.FindSite(in.SiteID)
		if !ok {
			return "", domain.NotFound(domain.EntityPlantingSite, in.SiteID)
		}
		var err error
		created, err = tx.CreateObservation(in.observation(site, true))
		if err != nil {
			return "", err
		}
		return created.ID, assignPlot(tx, created, in.PlotID, false)
	})
	return created, res, err
}

// RemovePlotsFromObservation drops assignments that have not been completed
// together with their placeholder totals.
func (s *Service) RemovePlotsFromObservation(ctx context.Context, actor Actor, observationID string, plotIDs []string) (Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapManageObservation, observationTarget(observationID)); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "remove_plots_from_observation", actor, func(tx Transaction) (string, error) {
		obs, err := findActiveObservation(tx, observationID)
		if err != nil {
			return observationID, err
		}
		affected := make(map[SpeciesKey]struct{})
		for _, plotID := range plotIDs {
			op, ok := tx.FindObservationPlot(observationID, plotID)
			if !ok {
				return observationID, domain.InvalidState(domain.ReasonPlotNotInObservation, domain.EntityObservationPlot, plotID, "plot is not assigned to observation %s", observationID)
			}
			if op.Status.Terminal() {
				return observationID, domain.InvalidState(domain.ReasonPlotAlreadyCompleted, domain.EntityObservationPlot, plotID, "plot has already been completed")
			}
			keys, err := dropAssignment(tx, obs, plotID)
			if err != nil {
				return observationID, err
			}
			affected = mergeKeys(affected, keys)
		}
		if len(affected) == 0 {
			return observationID, nil
		}
		return observationID, rollUpObservation(tx, obs, affected)
	})
}

func dropAssignment(tx Transaction, obs Observation, plotID string) (map[SpeciesKey]struct{}, error) {
	keys, err := deletePlotTotals(tx, obs.ID, plotID)
	if err != nil {
		return nil, err
	}
	return keys, tx.DeleteObservationPlot(obs.ID, plotID)
}

// RescheduleObservation moves an observation's dates. It is only allowed
// while no plot has been completed. An in-progress observation returns to
// Upcoming and loses its assignments so that plots are selected afresh.
func (s *Service) RescheduleObservation(ctx context.Context, actor Actor, observationID string, start, end time.Time) (Observation, Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapManageObservation, observationTarget(observationID)); err != nil {
		return Observation{}, Result{}, err
	}
	var updated Observation
	res, err := s.run(ctx, "reschedule_observation", actor, func(tx Transaction) (string, error) {
		obs, err := findActiveObservation(tx, observationID)
		if err != nil {
			return observationID, err
		}
		if err := (ObservationInput{SiteID: obs.SiteID, StartDate: start, EndDate: end}).validate(); err != nil {
			return observationID, err
		}
		ops := tx.ListObservationPlots(observationID)
		for _, op := range ops {
			if op.Status == domain.PlotCompleted {
				return observationID, domain.InvalidState(domain.ReasonObservationHasData, domain.EntityObservation, observationID, "observation already has completed plots")
			}
		}
		site, ok := tx.FindSite(obs.SiteID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityPlantingSite, obs.SiteID)
		}
		wasStarted := obs.State == domain.ObservationInProgress
		if wasStarted {
			for _, op := range ops {
				if _, err := dropAssignment(tx, obs, op.PlotID); err != nil {
					return observationID, err
				}
			}
			if err := rollUpObservation(tx, obs, nil); err != nil {
				return observationID, err
			}
		}
		updated, err = tx.UpdateObservation(observationID, func(o *Observation) error {
			o.StartDate = start
			o.EndDate = end
			o.State = domain.ObservationUpcoming
			o.SiteHistoryID = site.CurrentHistoryID
			if wasStarted {
				o.CumulativeDeadSeeded = false
			}
			return nil
		})
		return observationID, err
	})
	return updated, res, err
}

// UpdateObservationState moves an observation to Completed or Abandoned.
// InProgress is entered only by claiming or completing a plot and Upcoming
// only by rescheduling.
func (s *Service) UpdateObservationState(ctx context.Context, actor Actor, observationID string, state domain.ObservationState) (Observation, Result, error) {
	if state == domain.ObservationAbandoned {
		obs, _, res, err := s.AbandonObservation(ctx, actor, observationID)
		return obs, res, err
	}
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(observationID)); err != nil {
		return Observation{}, Result{}, err
	}
	var updated Observation
	res, err := s.run(ctx, "update_observation_state", actor, func(tx Transaction) (string, error) {
		obs, ok := tx.FindObservation(observationID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityObservation, observationID)
		}
		if state != domain.ObservationCompleted {
			return observationID, domain.InvalidState(domain.ReasonInvalidTransition, domain.EntityObservation, observationID, "cannot set observation state to %s", state)
		}
		if obs.State.Terminal() {
			return observationID, domain.InvalidState(domain.ReasonObservationAlreadyEnded, domain.EntityObservation, observationID, "observation is already %s", obs.State)
		}
		if obs.State != domain.ObservationInProgress {
			return observationID, domain.InvalidState(domain.ReasonInvalidTransition, domain.EntityObservation, observationID, "cannot complete an observation in state %s", obs.State)
		}
		var err error
		updated, err = completeObservation(tx, obs)
		return observationID, err
	})
	return updated, res, err
}

// completeObservation marks obs Completed at its latest plot completion time.
func completeObservation(tx Transaction, obs Observation) (Observation, error) {
	completedAt, ok := latestPlotCompletion(tx.ListObservationPlots(obs.ID))
	if !ok {
		return Observation{}, domain.InvalidState(domain.ReasonNothingObserved, domain.EntityObservation, obs.ID, "cannot complete an observation with nothing observed")
	}
	updated, err := tx.UpdateObservation(obs.ID, func(o *Observation) error {
		o.State = domain.ObservationCompleted
		o.CompletedAt = ptr(completedAt)
		return nil
	})
	if err != nil {
		return Observation{}, err
	}
	return updated, insertObservedSpeciesDensities(tx, updated)
}

func latestPlotCompletion(ops []ObservationPlot) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, op := range ops {
		if op.Status != domain.PlotCompleted || op.CompletedAt == nil {
			continue
		}
		if !found || op.CompletedAt.After(latest) {
			latest, found = *op.CompletedAt, true
		}
	}
	return latest, found
}

// AbandonObservation ends an observation early. An observation without any
// completed plot is deleted outright and deleted is true. Otherwise every
// unfinished plot becomes NotObserved with its claim released, and completed
// totals are untouched.
func (s *Service) AbandonObservation(ctx context.Context, actor Actor, observationID string) (Observation, bool, Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapUpdateObservation, observationTarget(observationID)); err != nil {
		return Observation{}, false, Result{}, err
	}
	var (
		updated Observation
		deleted bool
	)
	res, err := s.run(ctx, "abandon_observation", actor, func(tx Transaction) (string, error) {
		obs, ok := tx.FindObservation(observationID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityObservation, observationID)
		}
		if obs.State.Terminal() {
			return observationID, domain.InvalidState(domain.ReasonObservationAlreadyEnded, domain.EntityObservation, observationID, "observation is already %s", obs.State)
		}
		ops := tx.ListObservationPlots(observationID)
		completedAt, hasData := latestPlotCompletion(ops)
		if !hasData {
			deleted = true
			return observationID, tx.DeleteObservation(observationID)
		}
		var err error
		updated, err = tx.UpdateObservation(observationID, func(o *Observation) error {
			o.State = domain.ObservationAbandoned
			o.CompletedAt = ptr(completedAt)
			return nil
		})
		if err != nil {
			return observationID, err
		}
		for _, op := range ops {
			if op.Status == domain.PlotCompleted {
				continue
			}
			if _, err := tx.UpdateObservationPlot(observationID, op.PlotID, func(p *ObservationPlot) error {
				p.Status = domain.PlotNotObserved
				p.ClaimedBy = nil
				p.ClaimedAt = nil
				return nil
			}); err != nil {
				return observationID, err
			}
		}
		return observationID, insertObservedSpeciesDensities(tx, updated)
	})
	return updated, deleted, res, err
}

// GetObservation returns one observation.
func (s *Service) GetObservation(ctx context.Context, actor Actor, observationID string) (Observation, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, "", observationTarget(observationID)); err != nil {
		return Observation{}, err
	}
	var obs Observation
	err := s.view(ctx, "get_observation", actor, func(view TransactionView) error {
		var ok bool
		obs, ok = view.FindObservation(observationID)
		if !ok {
			return domain.NotFound(domain.EntityObservation, observationID)
		}
		return nil
	})
	return obs, err
}

// ListObservations returns a site's observations in creation order. Ad-hoc
// observations are excluded unless includeAdHoc is set.
func (s *Service) ListObservations(ctx context.Context, actor Actor, siteID string, includeAdHoc bool) ([]Observation, error) {
	if err := s.authorize(ctx, actor, CapReadSite, "", siteTarget(siteID)); err != nil {
		return nil, err
	}
	var out []Observation
	err := s.view(ctx, "list_observations", actor, func(view TransactionView) error {
		if _, ok := view.FindSite(siteID); !ok {
			return domain.NotFound(domain.EntityPlantingSite, siteID)
		}
		for _, obs := range view.ListObservations(siteID) {
			if obs.IsAdHoc && !includeAdHoc {
				continue
			}
			out = append(out, obs)
		}
		return nil
	})
	return out, err
}

// ListObservationPlots returns the assignments of an observation.
func (s *Service) ListObservationPlots(ctx context.Context, actor Actor, observationID string) ([]ObservationPlot, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, "", observationTarget(observationID)); err != nil {
		return nil, err
	}
	var out []ObservationPlot
	err := s.view(ctx, "list_observation_plots", actor, func(view TransactionView) error {
		if _, ok := view.FindObservation(observationID); !ok {
			return domain.NotFound(domain.EntityObservation, observationID)
		}
		out = view.ListObservationPlots(observationID)
		return nil
	})
	return out, err
}

// findActiveObservation loads an observation that has not ended.
func findActiveObservation(view TransactionView, observationID string) (Observation, error) {
	obs, ok := view.FindObservation(observationID)
	if !ok {
		return Observation{}, domain.NotFound(domain.EntityObservation, observationID)
	}
	if obs.State.Terminal() {
		return Observation{}, domain.InvalidState(domain.ReasonObservationAlreadyEnded, domain.EntityObservation, observationID, "observation is already %s", obs.State)
	}
	return obs, nil
}
