package core

import (
	"context"
	"fmt"

	"restorationcore/pkg/domain"
)

// TerminalObservationRule blocks plot status and claim changes on completed
// or abandoned observations. The transaction that ends the observation may
// still settle its plots.
func TerminalObservationRule() domain.Rule {
	return terminalObservationRule{}
}

type terminalObservationRule struct{}

func (terminalObservationRule) Name() string { return "terminal_observation" }

func (terminalObservationRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	endedHere := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityObservation || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := change.Before.(domain.Observation)
		after, okAfter := change.After.(domain.Observation)
		if okBefore && okAfter && !before.State.Terminal() && after.State.Terminal() {
			endedHere[after.ID] = struct{}{}
		}
	}

	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityObservationPlot {
			continue
		}
		var op domain.ObservationPlot
		switch change.Action {
		case domain.ActionCreate:
			op, _ = change.After.(domain.ObservationPlot)
		case domain.ActionUpdate:
			before, _ := change.Before.(domain.ObservationPlot)
			after, _ := change.After.(domain.ObservationPlot)
			if before.Status == after.Status && deref(before.ClaimedBy) == deref(after.ClaimedBy) {
				continue
			}
			op = after
		case domain.ActionDelete:
			op, _ = change.Before.(domain.ObservationPlot)
		}
		if op.ObservationID == "" {
			continue
		}
		if _, ok := endedHere[op.ObservationID]; ok {
			continue
		}
		obs, ok := view.FindObservation(op.ObservationID)
		if !ok || !obs.State.Terminal() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "terminal_observation",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("observation %s is %s; plot %s cannot be %sd", obs.ID, obs.State, op.PlotID, change.Action),
			Entity:   domain.EntityObservationPlot,
			EntityID: op.ObservationID + "/" + op.PlotID,
		})
	}
	return res, nil
}
