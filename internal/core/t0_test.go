package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"restorationcore/pkg/domain"
)

func TestAssignT0PlotDensitiesValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		plotID    string
		densities []SpeciesDensity
		want      error
	}{
		{"temporary plot", f.p3.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: 1}}, domain.ErrPlotNotPermanent},
		{"negative", f.p1.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: -1}}, domain.ErrInvalidDensity},
		{"not a number", f.p1.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: math.NaN()}}, domain.ErrInvalidDensity},
		{"duplicate", f.p1.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: 1}, {SpeciesID: f.speciesX.ID, Density: 2}}, domain.ErrInvalidDensity},
		{"unknown species", f.p1.ID, []SpeciesDensity{{SpeciesID: "missing", Density: 1}}, domain.ErrNotFound},
		{"unknown plot", "missing", nil, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.AssignT0PlotDensities(ctx, f.actor, tc.plotID, tc.densities); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAssignT0PlotDensitiesUpdatesPastSurvival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.newObservation(t)
	f.complete(t, obs.ID, f.p1.ID, live(f.x(), 9), dead(f.x(), 1))

	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x()); row.SurvivalRate != nil {
		t.Fatalf("no baseline means no survival, got %d", intValue(row.SurvivalRate))
	}
	if _, err := f.svc.AssignT0PlotDensities(ctx, f.actor, f.p1.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: 10}}); err != nil {
		t.Fatalf("assign t0: %v", err)
	}
	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x()); intValue(row.SurvivalRate) != 90 {
		t.Fatalf("expected plot survival 90, got %d", intValue(row.SurvivalRate))
	}
	site := f.mustTotals(t, obs.ID, domain.LevelSite, f.site.ID, f.x())
	if intValue(site.SurvivalRate) != 90 || site.CumulativeDead != 1 {
		t.Fatalf("expected only survival inputs to move, got %+v", site)
	}

	// A species planted but never observed still reports zero survival.
	if _, err := f.svc.AssignT0PlotDensities(ctx, f.actor, f.p1.ID, []SpeciesDensity{
		{SpeciesID: f.speciesX.ID, Density: 10},
		{SpeciesID: f.speciesY.ID, Density: 4},
	}); err != nil {
		t.Fatalf("assign t0: %v", err)
	}
	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.y()); intValue(row.SurvivalRate) != 0 || row.TotalLive != 0 {
		t.Fatalf("expected zero survival for unobserved planted species, got %+v", row)
	}
}

func TestAssignT0PlotObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.newObservation(t)
	f.complete(t, obs.ID, f.p1.ID, live(f.x(), 8), dead(f.x(), 2), live(domain.OtherSpecies("Fern"), 5))

	if _, err := f.svc.AssignT0PlotObservation(ctx, f.actor, f.p2.ID, obs.ID); !errors.Is(err, domain.ErrPlotNotCompleted) {
		t.Fatalf("expected plot not completed, got %v", err)
	}
	if _, err := f.svc.AssignT0PlotObservation(ctx, f.actor, f.p1.ID, obs.ID); err != nil {
		t.Fatalf("assign t0 observation: %v", err)
	}
	data, err := f.svc.GetSiteT0Data(ctx, f.actor, f.site.ID)
	if err != nil {
		t.Fatalf("get t0 data: %v", err)
	}
	if len(data.Plots) != 1 {
		t.Fatalf("expected one plot baseline, got %+v", data.Plots)
	}
	baseline := data.Plots[0]
	if baseline.PlotID != f.p1.ID || deref(baseline.ObservationID) != obs.ID {
		t.Fatalf("unexpected baseline %+v", baseline)
	}
	if len(baseline.Densities) != 1 || baseline.Densities[0].SpeciesID != f.speciesX.ID || baseline.Densities[0].Density != 10 {
		t.Fatalf("expected live plus dead of catalog species only, got %+v", baseline.Densities)
	}
	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x()); intValue(row.SurvivalRate) != 80 {
		t.Fatalf("expected survival 80 against own baseline, got %d", intValue(row.SurvivalRate))
	}

	if _, err := f.svc.AssignT0PlotDensities(ctx, f.actor, f.p1.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: 16}}); err != nil {
		t.Fatalf("assign densities: %v", err)
	}
	data, err = f.svc.GetSiteT0Data(ctx, f.actor, f.site.ID)
	if err != nil {
		t.Fatalf("get t0 data: %v", err)
	}
	if data.Plots[0].ObservationID != nil {
		t.Fatalf("manual densities must drop the baseline observation")
	}
	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x()); intValue(row.SurvivalRate) != 50 {
		t.Fatalf("expected survival 50, got %d", intValue(row.SurvivalRate))
	}
}

func TestAssignT0ZoneDensitiesRefreshesOptedInSites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.UpdatePlantingSite(ctx, f.actor, f.site.ID, func(p *PlantingSite) error {
		p.SurvivalRateIncludesTempPlots = true
		return nil
	}); err != nil {
		t.Fatalf("update site: %v", err)
	}
	obs := f.newObservation(t)
	f.complete(t, obs.ID, f.p3.ID, live(f.x(), 4))

	if _, err := f.svc.AssignT0ZoneDensities(ctx, f.actor, f.zone.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: 5}}); err != nil {
		t.Fatalf("assign zone t0: %v", err)
	}
	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p3.ID, f.x()); intValue(row.SurvivalRate) != 80 {
		t.Fatalf("expected survival 80, got %d", intValue(row.SurvivalRate))
	}
	data, err := f.svc.GetSiteT0Data(ctx, f.actor, f.site.ID)
	if err != nil {
		t.Fatalf("get t0 data: %v", err)
	}
	if len(data.Zones) != 1 || data.Zones[0].ZoneID != f.zone.ID {
		t.Fatalf("expected zone baseline, got %+v", data.Zones)
	}

	if _, err := f.svc.AssignT0ZoneDensities(ctx, f.actor, f.zone.ID, nil); err != nil {
		t.Fatalf("clear zone t0: %v", err)
	}
	if row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p3.ID, f.x()); row.SurvivalRate != nil {
		t.Fatalf("cleared baseline removes survival, got %d", intValue(row.SurvivalRate))
	}
}

func TestCompletionAddsObservedSpeciesToBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AssignT0PlotDensities(ctx, f.actor, f.p1.ID, []SpeciesDensity{{SpeciesID: f.speciesX.ID, Density: 10}}); err != nil {
		t.Fatalf("assign t0: %v", err)
	}
	obs := f.newObservation(t)
	f.complete(t, obs.ID, f.p1.ID, live(f.x(), 5), live(f.y(), 2))
	f.complete(t, obs.ID, f.p2.ID, live(f.y(), 2))
	f.complete(t, obs.ID, f.p3.ID)

	data, err := f.svc.GetSiteT0Data(ctx, f.actor, f.site.ID)
	if err != nil {
		t.Fatalf("get t0 data: %v", err)
	}
	if len(data.Plots) != 1 {
		t.Fatalf("plots without a baseline stay without one, got %+v", data.Plots)
	}
	densities := make(map[string]float64)
	for _, d := range data.Plots[0].Densities {
		densities[d.SpeciesID] = d.Density
	}
	if len(densities) != 2 || densities[f.speciesX.ID] != 10 || densities[f.speciesY.ID] != 0 {
		t.Fatalf("expected observed species added at zero, got %+v", densities)
	}
}
