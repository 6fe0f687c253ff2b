package core

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"restorationcore/pkg/domain"
)

// SpeciesResult is one species line of a results report.
type SpeciesResult struct {
	Species        SpeciesKey `json:"species"`
	TotalLive      int        `json:"total_live"`
	TotalDead      int        `json:"total_dead"`
	TotalExisting  int        `json:"total_existing"`
	MortalityRate  *int       `json:"mortality_rate,omitempty"`
	CumulativeDead int        `json:"cumulative_dead"`
	PermanentLive  int        `json:"permanent_live"`
	SurvivalRate   *int       `json:"survival_rate,omitempty"`
}

// ScopeTotals sums every species of a scope, Unknown included. Rates are
// recomputed from the summed inputs.
type ScopeTotals struct {
	TotalLive      int  `json:"total_live"`
	TotalDead      int  `json:"total_dead"`
	TotalExisting  int  `json:"total_existing"`
	CumulativeDead int  `json:"cumulative_dead"`
	PermanentLive  int  `json:"permanent_live"`
	MortalityRate  *int `json:"mortality_rate,omitempty"`
	SurvivalRate   *int `json:"survival_rate,omitempty"`
}

// PlotResults is the outcome of one assignment.
type PlotResults struct {
	PlotID             string                `json:"plot_id"`
	PlotNumber         int64                 `json:"plot_number"`
	Status             ObservationPlotStatus `json:"status"`
	IsPermanent        bool                  `json:"is_permanent"`
	ExcludedFromTotals bool                  `json:"excluded_from_totals"`
	ClaimedBy          *string               `json:"claimed_by,omitempty"`
	CompletedBy        *string               `json:"completed_by,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
	ObservedAt         *time.Time            `json:"observed_at,omitempty"`
	Notes              string                `json:"notes,omitempty"`
	Biomass            json.RawMessage       `json:"biomass,omitempty"`
	Species            []SpeciesResult       `json:"species"`
	Totals             ScopeTotals           `json:"totals"`
}

// SubzoneResults groups plots by the subzone they belonged to when assigned.
type SubzoneResults struct {
	SubzoneID string          `json:"subzone_id"`
	Name      string          `json:"name"`
	FullName  string          `json:"full_name"`
	Species   []SpeciesResult `json:"species"`
	Totals    ScopeTotals     `json:"totals"`
	Plots     []PlotResults   `json:"plots"`
}

// ZoneResults groups subzones by zone.
type ZoneResults struct {
	ZoneID   string           `json:"zone_id"`
	Name     string           `json:"name"`
	Species  []SpeciesResult  `json:"species"`
	Totals   ScopeTotals      `json:"totals"`
	Subzones []SubzoneResults `json:"subzones"`
}

// ObservationResults is the site → zone → subzone → plot tree of one
// observation. Names come from the history snapshots bound at assignment,
// so later map edits never change an existing report.
type ObservationResults struct {
	Observation Observation     `json:"observation"`
	SiteID      string          `json:"site_id"`
	Species     []SpeciesResult `json:"species"`
	Totals      ScopeTotals     `json:"totals"`
	Zones       []ZoneResults   `json:"zones"`
	// UnassignedPlots had no subzone at assignment time, as do ad-hoc plots.
	UnassignedPlots []PlotResults `json:"unassigned_plots,omitempty"`
}

// GetObservationResults assembles the results tree of an observation from
// its stored totals.
func (s *Service) GetObservationResults(ctx context.Context, actor Actor, observationID string) (ObservationResults, error) {
	if err := s.authorize(ctx, actor, CapReadObservation, "", observationTarget(observationID)); err != nil {
		return ObservationResults{}, err
	}
	var out ObservationResults
	err := s.view(ctx, "get_observation_results", actor, func(view TransactionView) error {
		obs, ok := view.FindObservation(observationID)
		if !ok {
			return domain.NotFound(domain.EntityObservation, observationID)
		}
		var err error
		out, err = buildObservationResults(view, obs)
		return err
	})
	return out, err
}

func buildObservationResults(view TransactionView, obs Observation) (ObservationResults, error) {
	out := ObservationResults{Observation: obs, SiteID: obs.SiteID}
	rowsByLevel := make(map[domain.TotalsLevel]map[string][]SpeciesTotals)
	for _, level := range []domain.TotalsLevel{domain.LevelPlot, domain.LevelSubzone, domain.LevelZone, domain.LevelSite} {
		byScope := make(map[string][]SpeciesTotals)
		for _, row := range view.ListSpeciesTotals(obs.ID, level) {
			byScope[row.ScopeID] = append(byScope[row.ScopeID], row)
		}
		rowsByLevel[level] = byScope
	}

	zones := make(map[string]*ZoneResults)
	subzones := make(map[string]*SubzoneResults)
	var zoneOrder []string
	subzoneOrder := make(map[string][]string)

	for _, op := range view.ListObservationPlots(obs.ID) {
		att, err := ResolveAttribution(view, op)
		if err != nil {
			return ObservationResults{}, err
		}
		rows := rowsByLevel[domain.LevelPlot][op.PlotID]
		pr := PlotResults{
			PlotID:             op.PlotID,
			Status:             op.Status,
			IsPermanent:        op.IsPermanent,
			ExcludedFromTotals: op.ExcludedFromTotals,
			ClaimedBy:          op.ClaimedBy,
			CompletedBy:        op.CompletedBy,
			CompletedAt:        op.CompletedAt,
			ObservedAt:         op.ObservedAt,
			Notes:              op.Notes,
			Biomass:            op.Biomass,
			Species:            speciesLines(rows, true),
			Totals:             scopeTotals(rows),
		}
		if plot, ok := view.FindPlot(op.PlotID); ok {
			pr.PlotNumber = plot.PlotNumber
		}
		if att.SubzoneID == "" || obs.IsAdHoc {
			out.UnassignedPlots = append(out.UnassignedPlots, pr)
			continue
		}
		zone, ok := zones[att.ZoneID]
		if !ok {
			zoneRows := rowsByLevel[domain.LevelZone][att.ZoneID]
			zone = &ZoneResults{
				ZoneID:  att.ZoneID,
				Name:    att.ZoneName,
				Species: speciesLines(zoneRows, false),
				Totals:  scopeTotals(zoneRows),
			}
			zones[att.ZoneID] = zone
			zoneOrder = append(zoneOrder, att.ZoneID)
		}
		subzone, ok := subzones[att.SubzoneID]
		if !ok {
			subzoneRows := rowsByLevel[domain.LevelSubzone][att.SubzoneID]
			subzone = &SubzoneResults{
				SubzoneID: att.SubzoneID,
				Name:      att.SubzoneName,
				FullName:  att.SubzoneFullName,
				Species:   speciesLines(subzoneRows, false),
				Totals:    scopeTotals(subzoneRows),
			}
			subzones[att.SubzoneID] = subzone
			subzoneOrder[att.ZoneID] = append(subzoneOrder[att.ZoneID], att.SubzoneID)
		}
		subzone.Plots = append(subzone.Plots, pr)
	}

	sort.Slice(zoneOrder, func(i, j int) bool {
		return lessByName(zones[zoneOrder[i]].Name, zoneOrder[i], zones[zoneOrder[j]].Name, zoneOrder[j])
	})
	for _, zoneID := range zoneOrder {
		ids := subzoneOrder[zoneID]
		sort.Slice(ids, func(i, j int) bool {
			return lessByName(subzones[ids[i]].FullName, ids[i], subzones[ids[j]].FullName, ids[j])
		})
		zone := zones[zoneID]
		for _, id := range ids {
			sz := subzones[id]
			sort.Slice(sz.Plots, func(i, j int) bool { return sz.Plots[i].PlotNumber < sz.Plots[j].PlotNumber })
			zone.Subzones = append(zone.Subzones, *sz)
		}
		out.Zones = append(out.Zones, *zone)
	}
	sort.Slice(out.UnassignedPlots, func(i, j int) bool {
		return out.UnassignedPlots[i].PlotNumber < out.UnassignedPlots[j].PlotNumber
	})

	siteRows := rowsByLevel[domain.LevelSite][obs.SiteID]
	out.Species = speciesLines(siteRows, false)
	out.Totals = scopeTotals(siteRows)
	return out, nil
}

func lessByName(a, aID, b, bID string) bool {
	if a != b {
		return a < b
	}
	return aID < bID
}

// speciesLines converts rows to report lines in key order. Unknown is only
// reported as its own line at plot level.
func speciesLines(rows []SpeciesTotals, includeUnknown bool) []SpeciesResult {
	out := make([]SpeciesResult, 0, len(rows))
	for _, row := range rows {
		if row.Species.IsUnknown() && !includeUnknown {
			continue
		}
		out = append(out, SpeciesResult{
			Species:        row.Species,
			TotalLive:      row.TotalLive,
			TotalDead:      row.TotalDead,
			TotalExisting:  row.TotalExisting,
			MortalityRate:  row.MortalityRate,
			CumulativeDead: row.CumulativeDead,
			PermanentLive:  row.PermanentLive,
			SurvivalRate:   row.SurvivalRate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Species.Compare(out[j].Species) < 0 })
	return out
}

func scopeTotals(rows []SpeciesTotals) ScopeTotals {
	var sum SpeciesTotals
	for _, row := range rows {
		addTotals(&sum, row)
	}
	return ScopeTotals{
		TotalLive:      sum.TotalLive,
		TotalDead:      sum.TotalDead,
		TotalExisting:  sum.TotalExisting,
		CumulativeDead: sum.CumulativeDead,
		PermanentLive:  sum.PermanentLive,
		MortalityRate:  domain.MortalityRate(sum.TotalLive, sum.TotalDead),
		SurvivalRate:   domain.SurvivalRate(sum.SurvivalLive, sum.T0Density),
	}
}

// SubzoneSummary is the latest data for one current subzone.
type SubzoneSummary struct {
	SubzoneID string `json:"subzone_id"`
	Name      string `json:"name"`
	ZoneID    string `json:"zone_id"`
	// ObservationID is the observation the numbers come from; empty when the
	// subzone has not been observed by asOf.
	ObservationID string          `json:"observation_id,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Species       []SpeciesResult `json:"species"`
	Totals        ScopeTotals     `json:"totals"`
}

// SiteSummary combines the most recent data of every subzone as of a time.
type SiteSummary struct {
	SiteID   string           `json:"site_id"`
	AsOf     time.Time        `json:"as_of"`
	Species  []SpeciesResult  `json:"species"`
	Totals   ScopeTotals      `json:"totals"`
	Subzones []SubzoneSummary `json:"subzones"`
}

// GetSiteSummary reports, for each current subzone, the totals of the most
// recent ended non-ad-hoc observation completed at or before asOf that
// completed a plot in it. It always reads the source totals, so retroactive
// edits show up immediately.
func (s *Service) GetSiteSummary(ctx context.Context, actor Actor, siteID string, asOf time.Time) (SiteSummary, error) {
	if err := s.authorize(ctx, actor, CapReadSite, "", siteTarget(siteID)); err != nil {
		return SiteSummary{}, err
	}
	out := SiteSummary{SiteID: siteID, AsOf: asOf.UTC()}
	err := s.view(ctx, "get_site_summary", actor, func(view TransactionView) error {
		if _, ok := view.FindSite(siteID); !ok {
			return domain.NotFound(domain.EntityPlantingSite, siteID)
		}
		var candidates []Observation
		for _, obs := range view.ListObservations(siteID) {
			if obs.IsAdHoc || !obs.State.Terminal() || obs.CompletedAt == nil || obs.CompletedAt.After(asOf) {
				continue
			}
			candidates = append(candidates, obs)
		}
		sort.Slice(candidates, func(i, j int) bool { return laterCompletion(candidates[i], candidates[j]) })

		observed := make(map[string]map[string]bool, len(candidates))
		for _, obs := range candidates {
			set, err := observedSubzones(view, obs.ID)
			if err != nil {
				return err
			}
			observed[obs.ID] = set
		}

		combined := make(map[SpeciesKey]SpeciesTotals)
		var all []SpeciesTotals
		for _, subzone := range view.ListSubzones(siteID) {
			summary := SubzoneSummary{SubzoneID: subzone.ID, Name: subzone.FullName, ZoneID: subzone.ZoneID}
			for _, obs := range candidates {
				if !observed[obs.ID][subzone.ID] {
					continue
				}
				rows := subzoneRows(view, obs.ID, subzone.ID)
				if len(rows) == 0 {
					continue
				}
				summary.ObservationID = obs.ID
				summary.CompletedAt = obs.CompletedAt
				summary.Species = speciesLines(rows, false)
				summary.Totals = scopeTotals(rows)
				for _, row := range rows {
					agg := combined[row.Species]
					agg.Species = row.Species
					addTotals(&agg, row)
					combined[row.Species] = agg
				}
				all = append(all, rows...)
				break
			}
			out.Subzones = append(out.Subzones, summary)
		}
		rows := make([]SpeciesTotals, 0, len(combined))
		for _, agg := range combined {
			finalizeRates(&agg)
			rows = append(rows, agg)
		}
		out.Species = speciesLines(rows, false)
		out.Totals = scopeTotals(all)
		return nil
	})
	return out, err
}

// observedSubzones lists the subzones in which the observation completed at
// least one plot that still counts toward totals. Carry-forward placeholder
// rows alone do not make a subzone observed.
func observedSubzones(view TransactionView, observationID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, op := range view.ListObservationPlots(observationID) {
		if op.Status != domain.PlotCompleted || op.ExcludedFromTotals {
			continue
		}
		att, err := ResolveAttribution(view, op)
		if err != nil {
			return nil, err
		}
		if att.SubzoneID != "" {
			out[att.SubzoneID] = true
		}
	}
	return out, nil
}

func subzoneRows(view TransactionView, observationID, subzoneID string) []SpeciesTotals {
	var out []SpeciesTotals
	for _, row := range view.ListSpeciesTotals(observationID, domain.LevelSubzone) {
		if row.ScopeID == subzoneID {
			out = append(out, row)
		}
	}
	return out
}
