package core

import (
	"context"

	"restorationcore/pkg/domain"
)

// priorCumulativeDead returns the cumulative dead recorded for key at the
// same plot by the most recent earlier terminal observation that has a row
// for it. A lineage break yields 0, as does the absence of any prior row.
func priorCumulativeDead(view TransactionView, obs Observation, att Attribution, key SpeciesKey) int {
	assignments := view.ListPlotAssignments(att.PlotID)
	for i := len(assignments) - 1; i >= 0; i-- {
		prevOp := assignments[i]
		if prevOp.ObservationID == obs.ID {
			continue
		}
		prev, ok := view.FindObservation(prevOp.ObservationID)
		if !ok || prev.Sequence >= obs.Sequence || prev.IsAdHoc || !prev.State.Terminal() {
			continue
		}
		row, ok := view.FindSpeciesTotals(prev.ID, TotalsKey{Level: domain.LevelPlot, ScopeID: att.PlotID, Species: key})
		if !ok {
			continue
		}
		prevAtt, err := ResolveAttribution(view, prevOp)
		if err != nil || !sameLineage(prevAtt, att) {
			return 0
		}
		return row.CumulativeDead
	}
	return 0
}

// latestTerminalObservation returns the most recently completed or abandoned
// non-ad-hoc observation of the site created before obs.
func latestTerminalObservation(view TransactionView, obs Observation) (Observation, bool) {
	var (
		best  Observation
		found bool
	)
	for _, candidate := range view.ListObservations(obs.SiteID) {
		if candidate.ID == obs.ID || candidate.IsAdHoc || !candidate.State.Terminal() || candidate.Sequence >= obs.Sequence {
			continue
		}
		if !found || laterCompletion(candidate, best) {
			best, found = candidate, true
		}
	}
	return best, found
}

func laterCompletion(a, b Observation) bool {
	switch {
	case a.CompletedAt != nil && b.CompletedAt != nil && !a.CompletedAt.Equal(*b.CompletedAt):
		return a.CompletedAt.After(*b.CompletedAt)
	case a.CompletedAt != nil && b.CompletedAt == nil:
		return true
	case a.CompletedAt == nil && b.CompletedAt != nil:
		return false
	}
	return a.Sequence > b.Sequence
}

// seedPlaceholders copies the previous terminal observation's plot-level
// cumulative dead into zero-count rows for every permanent assignment of obs
// whose lineage is continuous. Existing rows are left alone, so the step is
// idempotent. It returns the keys written.
func seedPlaceholders(tx Transaction, obs Observation) (map[SpeciesKey]struct{}, error) {
	written := make(map[SpeciesKey]struct{})
	if obs.IsAdHoc {
		return written, nil
	}
	prev, ok := latestTerminalObservation(tx, obs)
	if !ok {
		return written, nil
	}
	for _, op := range tx.ListObservationPlots(obs.ID) {
		if !op.IsPermanent || op.Status.Terminal() {
			continue
		}
		prevOp, ok := tx.FindObservationPlot(prev.ID, op.PlotID)
		if !ok {
			continue
		}
		att, err := ResolveAttribution(tx, op)
		if err != nil {
			return nil, err
		}
		prevAtt, err := ResolveAttribution(tx, prevOp)
		if err != nil {
			return nil, err
		}
		if !sameLineage(prevAtt, att) {
			continue
		}
		current := plotRows(tx, obs.ID, op.PlotID)
		prevRows := plotRows(tx, prev.ID, op.PlotID)
		for _, key := range sortedKeys(keySet(prevRows)) {
			prevRow := prevRows[key]
			if prevRow.CumulativeDead <= 0 {
				continue
			}
			if _, exists := current[key]; exists {
				continue
			}
			row := SpeciesTotals{
				ObservationID:  obs.ID,
				Level:          domain.LevelPlot,
				ScopeID:        op.PlotID,
				Species:        key,
				CumulativeDead: prevRow.CumulativeDead,
			}
			finalizeRates(&row)
			if _, err := tx.PutSpeciesTotals(row); err != nil {
				return nil, err
			}
			written[key] = struct{}{}
		}
	}
	return written, nil
}

// populateCumulativeDead seeds placeholders once per observation and rolls
// them up. Later calls only seed assignments added since.
func populateCumulativeDead(tx Transaction, obs Observation) (Observation, error) {
	written, err := seedPlaceholders(tx, obs)
	if err != nil {
		return Observation{}, err
	}
	if len(written) > 0 {
		if err := rollUpObservation(tx, obs, written); err != nil {
			return Observation{}, err
		}
	}
	if obs.CumulativeDeadSeeded {
		return obs, nil
	}
	return tx.UpdateObservation(obs.ID, func(o *Observation) error {
		o.CumulativeDeadSeeded = true
		return nil
	})
}

func keySet(rows map[SpeciesKey]SpeciesTotals) map[SpeciesKey]struct{} {
	out := make(map[SpeciesKey]struct{}, len(rows))
	for key := range rows {
		out[key] = struct{}{}
	}
	return out
}

// PopulateCumulativeDead seeds carry-forward placeholder rows for an
// observation. It runs automatically when the observation starts.
func (s *Service) PopulateCumulativeDead(ctx context.Context, actor Actor, observationID string) (Result, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, CapManageObservation, observationTarget(observationID)); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "populate_cumulative_dead", actor, func(tx Transaction) (string, error) {
		obs, ok := tx.FindObservation(observationID)
		if !ok {
			return observationID, domain.NotFound(domain.EntityObservation, observationID)
		}
		if obs.State.Terminal() {
			return observationID, domain.InvalidState(domain.ReasonObservationAlreadyEnded, domain.EntityObservation, observationID, "observation has already ended")
		}
		_, err := populateCumulativeDead(tx, obs)
		return observationID, err
	})
}

func observationTarget(id string) Target {
	return Target{Entity: domain.EntityObservation, ID: id}
}

func siteTarget(id string) Target {
	return Target{Entity: domain.EntityPlantingSite, ID: id}
}
