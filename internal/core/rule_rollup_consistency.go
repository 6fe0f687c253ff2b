package core

import (
	"context"
	"fmt"
	"sort"

	"restorationcore/pkg/domain"
)

// RollupConsistencyRule recomputes the aggregate rows of every observation
// whose totals or assignments changed and blocks the commit when a stored
// subzone, zone, or site row diverges from the sum of its plot rows.
func RollupConsistencyRule() domain.Rule {
	return rollupConsistencyRule{}
}

type rollupConsistencyRule struct{}

func (rollupConsistencyRule) Name() string { return "rollup_consistency" }

func (rollupConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		switch change.Entity {
		case domain.EntitySpeciesTotals:
			for _, v := range []any{change.Before, change.After} {
				if row, ok := v.(domain.SpeciesTotals); ok {
					touched[row.ObservationID] = struct{}{}
				}
			}
		case domain.EntityObservationPlot:
			for _, v := range []any{change.Before, change.After} {
				if op, ok := v.(domain.ObservationPlot); ok {
					touched[op.ObservationID] = struct{}{}
				}
			}
		}
	}
	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := domain.Result{}
	for _, id := range ids {
		obs, ok := view.FindObservation(id)
		if !ok {
			continue
		}
		expected, err := expectedAggregates(view, obs)
		if err != nil {
			return domain.Result{}, err
		}
		for _, level := range []domain.TotalsLevel{domain.LevelSubzone, domain.LevelZone, domain.LevelSite} {
			for _, row := range view.ListSpeciesTotals(id, level) {
				want, ok := expected[row.Key()]
				delete(expected, row.Key())
				if ok && totalsEqual(row, want) {
					continue
				}
				res.Violations = append(res.Violations, rollupViolation(id, row.Key(), "stored row diverges from its plot rows"))
			}
		}
		for key := range expected {
			res.Violations = append(res.Violations, rollupViolation(id, key, "aggregate row is missing"))
		}
	}
	return res, nil
}

func rollupViolation(observationID string, key domain.TotalsKey, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "rollup_consistency",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("observation %s %s %s %s: %s", observationID, key.Level, key.ScopeID, key.Species, msg),
		Entity:   domain.EntitySpeciesTotals,
		EntityID: observationID,
	}
}
