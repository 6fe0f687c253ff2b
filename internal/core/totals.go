package core

import (
	"math"
	"sort"

	"restorationcore/pkg/domain"
)

type plantCounts struct {
	live     int
	dead     int
	existing int
}

func countPlants(plants []RecordedPlant) map[SpeciesKey]plantCounts {
	counts := make(map[SpeciesKey]plantCounts)
	for _, p := range plants {
		c := counts[p.Species]
		switch p.Status {
		case domain.PlantLive:
			c.live++
		case domain.PlantDead:
			c.dead++
		case domain.PlantExisting:
			c.existing++
		}
		counts[p.Species] = c
	}
	return counts
}

// finalizeRates recomputes both rates from the row's numerators and denominators.
func finalizeRates(row *SpeciesTotals) {
	row.MortalityRate = domain.MortalityRate(row.TotalLive, row.TotalDead)
	row.SurvivalRate = domain.SurvivalRate(row.SurvivalLive, row.T0Density)
}

// seedOf is the cumulative-dead carry a row was computed with.
func seedOf(row SpeciesTotals) int {
	return row.CumulativeDead - row.TotalDead
}

// plotRows returns the plot-level rows of one plot in an observation.
func plotRows(view TransactionView, observationID, plotID string) map[SpeciesKey]SpeciesTotals {
	out := make(map[SpeciesKey]SpeciesTotals)
	for _, row := range view.ListSpeciesTotals(observationID, domain.LevelPlot) {
		if row.ScopeID == plotID {
			out[row.Species] = row
		}
	}
	return out
}

// t0DensityFor returns the survival denominator for one species at an
// assignment, or 0 when survival does not apply.
func t0DensityFor(view TransactionView, site PlantingSite, op ObservationPlot, att Attribution, speciesID string) float64 {
	if op.IsPermanent {
		for _, d := range view.ListPlotT0Densities(op.PlotID) {
			if d.SpeciesID == speciesID {
				return d.Density
			}
		}
		return 0
	}
	if site.SurvivalRateIncludesTempPlots && att.ZoneID != "" {
		for _, d := range view.ListZoneT0Densities(att.ZoneID) {
			if d.SpeciesID == speciesID {
				return d.Density
			}
		}
	}
	return 0
}

// survivalEligible reports whether live plants at this assignment count
// toward survival rates.
func survivalEligible(site PlantingSite, op ObservationPlot) bool {
	return op.IsPermanent || site.SurvivalRateIncludesTempPlots
}

// densitySpecies lists the species with a positive baseline at an assignment.
func densitySpecies(view TransactionView, site PlantingSite, op ObservationPlot, att Attribution) []string {
	var ids []string
	if op.IsPermanent {
		for _, d := range view.ListPlotT0Densities(op.PlotID) {
			if d.Density > 0 {
				ids = append(ids, d.SpeciesID)
			}
		}
		return ids
	}
	if site.SurvivalRateIncludesTempPlots && att.ZoneID != "" {
		for _, d := range view.ListZoneT0Densities(att.ZoneID) {
			if d.Density > 0 {
				ids = append(ids, d.SpeciesID)
			}
		}
	}
	return ids
}

// buildPlotRow computes one plot-level row.
func buildPlotRow(view TransactionView, site PlantingSite, op ObservationPlot, att Attribution, key SpeciesKey, c plantCounts, seed int) SpeciesTotals {
	row := SpeciesTotals{
		ObservationID:  op.ObservationID,
		Level:          domain.LevelPlot,
		ScopeID:        op.PlotID,
		Species:        key,
		TotalLive:      c.live,
		TotalDead:      c.dead,
		TotalExisting:  c.existing,
		CumulativeDead: seed + c.dead,
	}
	if op.IsPermanent {
		row.PermanentLive = c.live
	}
	if op.Status == domain.PlotCompleted && key.IsKnown() && survivalEligible(site, op) {
		if density := t0DensityFor(view, site, op, att, key.SpeciesID); density > 0 {
			row.SurvivalLive = c.live
			row.T0Density = density
		}
	}
	finalizeRates(&row)
	return row
}

// rebuildPlotTotals recomputes every plot-level row of one assignment from
// its recorded plants. seed supplies the cumulative-dead carry per key. Keys
// with no plants, no carry, and no baseline are removed. It returns every key
// whose row was written or removed.
func rebuildPlotTotals(tx Transaction, site PlantingSite, op ObservationPlot, seed func(SpeciesKey) int) (map[SpeciesKey]struct{}, error) {
	att, err := ResolveAttribution(tx, op)
	if err != nil {
		return nil, err
	}
	counts := countPlants(tx.ListRecordedPlants(op.ObservationID, op.PlotID))
	existing := plotRows(tx, op.ObservationID, op.PlotID)

	keys := make(map[SpeciesKey]struct{}, len(counts)+len(existing))
	for key := range counts {
		keys[key] = struct{}{}
	}
	for key := range existing {
		keys[key] = struct{}{}
	}
	if op.Status == domain.PlotCompleted && survivalEligible(site, op) {
		for _, id := range densitySpecies(tx, site, op, att) {
			keys[domain.KnownSpecies(id)] = struct{}{}
		}
	}

	affected := make(map[SpeciesKey]struct{}, len(keys))
	for _, key := range sortedKeys(keys) {
		c, observed := counts[key]
		carry := seed(key)
		row := buildPlotRow(tx, site, op, att, key, c, carry)
		if !observed && carry == 0 && row.T0Density == 0 {
			if _, ok := existing[key]; ok {
				if err := tx.DeleteSpeciesTotals(op.ObservationID, row.Key()); err != nil {
					return nil, err
				}
				affected[key] = struct{}{}
			}
			continue
		}
		if prev, ok := existing[key]; ok && totalsEqual(prev, row) {
			continue
		}
		if _, err := tx.PutSpeciesTotals(row); err != nil {
			return nil, err
		}
		affected[key] = struct{}{}
	}
	return affected, nil
}

// deletePlotTotals removes every plot-level row of one assignment.
func deletePlotTotals(tx Transaction, observationID, plotID string) (map[SpeciesKey]struct{}, error) {
	affected := make(map[SpeciesKey]struct{})
	for key, row := range plotRows(tx, observationID, plotID) {
		if err := tx.DeleteSpeciesTotals(observationID, row.Key()); err != nil {
			return nil, err
		}
		affected[key] = struct{}{}
	}
	return affected, nil
}

// seedFor returns the carry-forward function used when a plot is completed
// or edited: an existing row keeps the seed it was computed with, any other
// key looks up the most recent prior observation of the same plot.
func seedFor(view TransactionView, obs Observation, op ObservationPlot) (func(SpeciesKey) int, error) {
	existing := plotRows(view, obs.ID, op.PlotID)
	att, err := ResolveAttribution(view, op)
	if err != nil {
		return nil, err
	}
	return func(key SpeciesKey) int {
		if row, ok := existing[key]; ok {
			return seedOf(row)
		}
		return priorCumulativeDead(view, obs, att, key)
	}, nil
}

// expectedAggregates sums the non-excluded plot rows of an observation into
// subzone, zone, and site rows through each assignment's history snapshot.
// Ad-hoc observations have no aggregates.
func expectedAggregates(view TransactionView, obs Observation) (map[TotalsKey]SpeciesTotals, error) {
	out := make(map[TotalsKey]SpeciesTotals)
	if obs.IsAdHoc {
		return out, nil
	}
	byPlot := make(map[string][]SpeciesTotals)
	for _, row := range view.ListSpeciesTotals(obs.ID, domain.LevelPlot) {
		byPlot[row.ScopeID] = append(byPlot[row.ScopeID], row)
	}
	for _, op := range view.ListObservationPlots(obs.ID) {
		if op.ExcludedFromTotals {
			continue
		}
		rows := byPlot[op.PlotID]
		if len(rows) == 0 {
			continue
		}
		att, err := ResolveAttribution(view, op)
		if err != nil {
			return nil, err
		}
		scopes := []struct {
			level domain.TotalsLevel
			id    string
		}{
			{domain.LevelSubzone, att.SubzoneID},
			{domain.LevelZone, att.ZoneID},
			{domain.LevelSite, obs.SiteID},
		}
		for _, row := range rows {
			for _, scope := range scopes {
				if scope.id == "" {
					continue
				}
				key := TotalsKey{Level: scope.level, ScopeID: scope.id, Species: row.Species}
				agg, ok := out[key]
				if !ok {
					agg = SpeciesTotals{ObservationID: obs.ID, Level: scope.level, ScopeID: scope.id, Species: row.Species}
				}
				addTotals(&agg, row)
				out[key] = agg
			}
		}
	}
	for key, agg := range out {
		finalizeRates(&agg)
		out[key] = agg
	}
	return out, nil
}

func addTotals(dst *SpeciesTotals, src SpeciesTotals) {
	dst.TotalLive += src.TotalLive
	dst.TotalDead += src.TotalDead
	dst.TotalExisting += src.TotalExisting
	dst.CumulativeDead += src.CumulativeDead
	dst.PermanentLive += src.PermanentLive
	dst.SurvivalLive += src.SurvivalLive
	dst.T0Density += src.T0Density
}

// rollUpObservation rewrites the subzone, zone, and site rows of one
// observation for the given species keys; nil means every key.
func rollUpObservation(tx Transaction, obs Observation, species map[SpeciesKey]struct{}) error {
	expected, err := expectedAggregates(tx, obs)
	if err != nil {
		return err
	}
	inScope := func(key SpeciesKey) bool {
		if species == nil {
			return true
		}
		_, ok := species[key]
		return ok
	}
	for _, level := range []domain.TotalsLevel{domain.LevelSubzone, domain.LevelZone, domain.LevelSite} {
		for _, row := range tx.ListSpeciesTotals(obs.ID, level) {
			if !inScope(row.Species) {
				continue
			}
			want, ok := expected[row.Key()]
			if !ok {
				if err := tx.DeleteSpeciesTotals(obs.ID, row.Key()); err != nil {
					return err
				}
				continue
			}
			delete(expected, row.Key())
			if totalsEqual(row, want) {
				continue
			}
			if _, err := tx.PutSpeciesTotals(want); err != nil {
				return err
			}
		}
	}
	keys := make([]TotalsKey, 0, len(expected))
	for key := range expected {
		if inScope(key.Species) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return totalsKeyLess(keys[i], keys[j]) })
	for _, key := range keys {
		if _, err := tx.PutSpeciesTotals(expected[key]); err != nil {
			return err
		}
	}
	return nil
}

// totalsEqual compares the stored quantities of two rows.
func totalsEqual(a, b SpeciesTotals) bool {
	return a.Key() == b.Key() &&
		a.TotalLive == b.TotalLive &&
		a.TotalDead == b.TotalDead &&
		a.TotalExisting == b.TotalExisting &&
		a.CumulativeDead == b.CumulativeDead &&
		a.PermanentLive == b.PermanentLive &&
		a.SurvivalLive == b.SurvivalLive &&
		math.Abs(a.T0Density-b.T0Density) < 1e-9 &&
		intPtrEqual(a.MortalityRate, b.MortalityRate) &&
		intPtrEqual(a.SurvivalRate, b.SurvivalRate)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortedKeys(keys map[SpeciesKey]struct{}) []SpeciesKey {
	out := make([]SpeciesKey, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

var levelRank = map[domain.TotalsLevel]int{
	domain.LevelPlot:    0,
	domain.LevelSubzone: 1,
	domain.LevelZone:    2,
	domain.LevelSite:    3,
}

func totalsKeyLess(a, b TotalsKey) bool {
	if levelRank[a.Level] != levelRank[b.Level] {
		return levelRank[a.Level] < levelRank[b.Level]
	}
	if a.ScopeID != b.ScopeID {
		return a.ScopeID < b.ScopeID
	}
	return a.Species.Compare(b.Species) < 0
}

func mergeKeys(dst map[SpeciesKey]struct{}, src map[SpeciesKey]struct{}) map[SpeciesKey]struct{} {
	if dst == nil {
		dst = make(map[SpeciesKey]struct{}, len(src))
	}
	for key := range src {
		dst[key] = struct{}{}
	}
	return dst
}
