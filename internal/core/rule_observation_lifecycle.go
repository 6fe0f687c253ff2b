package core

import (
	"context"
	"fmt"

	"restorationcore/pkg/domain"
)

// ObservationLifecycleRule blocks observation and plot-assignment state
// changes outside the transition tables.
func ObservationLifecycleRule() domain.Rule {
	return observationLifecycleRule{}
}

type observationLifecycleRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	initial   map[string]struct{}
	extractor func(value any) (id string, state string, ok bool)
	valid     func(state string) bool
	allowed   func(from, to string) bool
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityObservation: {
		entity:  domain.EntityObservation,
		label:   "observation",
		initial: toSet(string(domain.ObservationUpcoming)),
		extractor: func(value any) (string, string, bool) {
			obs, ok := value.(domain.Observation)
			if !ok {
				return "", "", false
			}
			return obs.ID, string(obs.State), true
		},
		valid: func(state string) bool { return domain.ObservationState(state).Valid() },
		allowed: func(from, to string) bool {
			return domain.ObservationState(from).CanTransition(domain.ObservationState(to))
		},
	},
	domain.EntityObservationPlot: {
		entity:  domain.EntityObservationPlot,
		label:   "observation plot",
		initial: toSet(string(domain.PlotUnclaimed)),
		extractor: func(value any) (string, string, bool) {
			op, ok := value.(domain.ObservationPlot)
			if !ok {
				return "", "", false
			}
			return op.ObservationID + "/" + op.PlotID, string(op.Status), true
		},
		valid: func(state string) bool { return domain.ObservationPlotStatus(state).Valid() },
		allowed: func(from, to string) bool {
			return domain.ObservationPlotStatus(from).CanTransition(domain.ObservationPlotStatus(to))
		},
	},
}

func (observationLifecycleRule) Name() string { return "observation_lifecycle" }

func (r observationLifecycleRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok || change.Action == domain.ActionDelete {
			continue
		}
		id, after, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if !machine.valid(after) {
			res.Violations = append(res.Violations, r.violation(machine, id, "%s %s is set to invalid state %s", machine.label, id, after))
			continue
		}
		if change.Action == domain.ActionCreate {
			if _, ok := machine.initial[after]; !ok {
				res.Violations = append(res.Violations, r.violation(machine, id, "%s %s cannot be created in state %s", machine.label, id, after))
			}
			continue
		}
		_, before, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		if !machine.allowed(before, after) {
			res.Violations = append(res.Violations, r.violation(machine, id, "cannot move %s %s from %s to %s", machine.label, id, before, after))
			continue
		}
		if change.Entity == domain.EntityObservationPlot && before != after && after == string(domain.PlotNotObserved) {
			op := change.After.(domain.ObservationPlot)
			if obs, ok := view.FindObservation(op.ObservationID); !ok || obs.State != domain.ObservationAbandoned {
				res.Violations = append(res.Violations, r.violation(machine, id, "%s %s can only become not observed when its observation is abandoned", machine.label, id))
			}
		}
	}
	return res, nil
}

func (observationLifecycleRule) violation(machine lifecycleMachine, id, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:     "observation_lifecycle",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf(format, args...),
		Entity:   machine.entity,
		EntityID: id,
	}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
