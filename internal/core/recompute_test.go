package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"restorationcore/pkg/domain"
)

func TestEditPlotPlantsRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.newObservation(t)
	f.complete(t, obs.ID, f.p1.ID, live(f.x(), 3), dead(f.x(), 1))

	if _, err := f.svc.EditPlotPlants(ctx, f.actor, obs.ID, f.p1.ID, append(live(f.x(), 2), dead(f.x(), 2)...)); err != nil {
		t.Fatalf("edit: %v", err)
	}
	row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x())
	if row.TotalLive != 2 || row.TotalDead != 2 || row.CumulativeDead != 2 || intValue(row.MortalityRate) != 50 {
		t.Fatalf("unexpected edited row %+v", row)
	}
	if site := f.mustTotals(t, obs.ID, domain.LevelSite, f.site.ID, f.x()); site.TotalDead != 2 {
		t.Fatalf("expected site re-summed, got %+v", site)
	}

	if _, err := f.svc.EditPlotPlants(ctx, f.actor, obs.ID, f.p1.ID, live(f.y(), 1)); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, ok := f.totals(obs.ID, domain.LevelPlot, f.p1.ID, f.x()); ok {
		t.Fatalf("species no longer recorded must lose its plot row")
	}
	if _, ok := f.totals(obs.ID, domain.LevelSite, f.site.ID, f.x()); ok {
		t.Fatalf("species no longer recorded must lose its site row")
	}
	f.mustTotals(t, obs.ID, domain.LevelSite, f.site.ID, f.y())

	if _, err := f.svc.EditPlotPlants(ctx, f.actor, obs.ID, f.p2.ID, live(f.x(), 1)); !errors.Is(err, domain.ErrPlotNotCompleted) {
		t.Fatalf("expected plot not completed, got %v", err)
	}
}

func TestEditPlotPlantsKeepsCarriedDead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newObservation(t)
	f.complete(t, first.ID, f.p1.ID, dead(f.x(), 3))
	f.complete(t, first.ID, f.p2.ID)
	f.complete(t, first.ID, f.p3.ID)

	second := f.newObservation(t)
	f.complete(t, second.ID, f.p1.ID, dead(f.x(), 1))
	if _, err := f.svc.EditPlotPlants(ctx, f.actor, second.ID, f.p1.ID, append(dead(f.x(), 2), live(f.x(), 1)...)); err != nil {
		t.Fatalf("edit: %v", err)
	}
	row := f.mustTotals(t, second.ID, domain.LevelPlot, f.p1.ID, f.x())
	if row.CumulativeDead != 5 {
		t.Fatalf("expected carry 3 plus 2 dead, got %+v", row)
	}
}

func TestMergeOtherSpeciesWithinObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.newObservation(t)
	other := domain.OtherSpecies("Oakish")
	f.complete(t, obs.ID, f.p1.ID, live(other, 2), dead(other, 1), live(f.x(), 1))

	if _, err := f.svc.MergeOtherSpecies(ctx, f.actor, obs.ID, "Oakish", f.speciesX.ID, MergeScopeObservation); err != nil {
		t.Fatalf("merge: %v", err)
	}
	row := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x())
	if row.TotalLive != 3 || row.TotalDead != 1 || row.CumulativeDead != 1 {
		t.Fatalf("unexpected merged row %+v", row)
	}
	for _, level := range []domain.TotalsLevel{domain.LevelPlot, domain.LevelSite} {
		scope := f.p1.ID
		if level == domain.LevelSite {
			scope = f.site.ID
		}
		if _, ok := f.totals(obs.ID, level, scope, other); ok {
			t.Fatalf("%s row of merged name must be removed", level)
		}
	}
	if site := f.mustTotals(t, obs.ID, domain.LevelSite, f.site.ID, f.x()); site.TotalLive != 3 {
		t.Fatalf("expected merged site row, got %+v", site)
	}

	var plants []RecordedPlant
	_ = f.svc.Store().View(ctx, func(view TransactionView) error {
		plants = view.ListRecordedPlants(obs.ID, f.p1.ID)
		return nil
	})
	for _, p := range plants {
		if p.Species != f.x() {
			t.Fatalf("expected every plant renamed, got %s", p.Species)
		}
	}
}

func TestMergeOtherSpeciesAcrossSite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := domain.OtherSpecies("Oakish")

	first := f.newObservation(t)
	f.complete(t, first.ID, f.p1.ID, dead(other, 2))
	f.complete(t, first.ID, f.p2.ID)
	f.complete(t, first.ID, f.p3.ID)

	second := f.newObservation(t)
	f.complete(t, second.ID, f.p1.ID, live(other, 1))
	if carried := f.mustTotals(t, second.ID, domain.LevelPlot, f.p1.ID, other); carried.CumulativeDead != 2 {
		t.Fatalf("expected carried dead on the free-text name, got %+v", carried)
	}

	if _, err := f.svc.MergeOtherSpecies(ctx, f.actor, first.ID, "Oakish", f.speciesX.ID, MergeScopeSite); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if row := f.mustTotals(t, first.ID, domain.LevelPlot, f.p1.ID, f.x()); row.TotalDead != 2 || row.CumulativeDead != 2 {
		t.Fatalf("unexpected first observation row %+v", row)
	}
	row := f.mustTotals(t, second.ID, domain.LevelPlot, f.p1.ID, f.x())
	if row.TotalLive != 1 || row.CumulativeDead != 2 {
		t.Fatalf("expected carry moved to the catalog species, got %+v", row)
	}
	if _, ok := f.totals(second.ID, domain.LevelPlot, f.p1.ID, other); ok {
		t.Fatalf("later observation must lose the free-text row")
	}
	if site := f.mustTotals(t, second.ID, domain.LevelSite, f.site.ID, f.x()); site.CumulativeDead != 2 {
		t.Fatalf("expected site carry on catalog species, got %+v", site)
	}
}

func TestMergeOtherSpeciesValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.newObservation(t)

	if _, err := f.svc.MergeOtherSpecies(ctx, f.actor, obs.ID, " ", f.speciesX.ID, MergeScopeObservation); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected blank name rejected, got %v", err)
	}
	if _, err := f.svc.MergeOtherSpecies(ctx, f.actor, obs.ID, "Oakish", f.speciesX.ID, "planet"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected unknown scope rejected, got %v", err)
	}
	if _, err := f.svc.MergeOtherSpecies(ctx, f.actor, obs.ID, "Oakish", "missing", MergeScopeObservation); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown species rejected, got %v", err)
	}
}

func TestRemovePlotFromTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.newObservation(t)
	f.complete(t, obs.ID, f.p1.ID, live(f.x(), 2), live(f.y(), 1))
	f.complete(t, obs.ID, f.p2.ID, live(f.x(), 3))
	f.complete(t, obs.ID, f.p3.ID, live(f.x(), 4))
	untouched := f.mustTotals(t, obs.ID, domain.LevelSubzone, f.s2.ID, f.x())

	if _, err := f.svc.RemovePlotFromTotals(ctx, f.actor, f.p1.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if site := f.mustTotals(t, obs.ID, domain.LevelSite, f.site.ID, f.x()); site.TotalLive != 7 {
		t.Fatalf("expected p2 and p3 in site totals, got %+v", site)
	}
	if sz := f.mustTotals(t, obs.ID, domain.LevelSubzone, f.s1.ID, f.x()); sz.TotalLive != 3 {
		t.Fatalf("expected only p2 in the first subzone, got %+v", sz)
	}
	for _, scope := range []struct {
		level domain.TotalsLevel
		id    string
	}{
		{domain.LevelSubzone, f.s1.ID},
		{domain.LevelZone, f.zone.ID},
		{domain.LevelSite, f.site.ID},
	} {
		if row, ok := f.totals(obs.ID, scope.level, scope.id, f.y()); ok {
			t.Fatalf("%s row left with no contributing plot: %+v", scope.level, row)
		}
	}
	if got := f.mustTotals(t, obs.ID, domain.LevelSubzone, f.s2.ID, f.x()); !reflect.DeepEqual(got, untouched) {
		t.Fatalf("a subzone the plot never belonged to changed: %+v -> %+v", untouched, got)
	}
	if plot := f.mustTotals(t, obs.ID, domain.LevelPlot, f.p1.ID, f.x()); plot.TotalLive != 2 {
		t.Fatalf("plot rows are kept, got %+v", plot)
	}
	if op := f.assignment(t, obs.ID, f.p1.ID); !op.ExcludedFromTotals {
		t.Fatalf("expected assignment marked excluded")
	}

	adHoc, _, err := f.svc.CreatePlot(ctx, f.actor, MonitoringPlot{SiteID: f.site.ID, PlotNumber: 77, IsAdHoc: true})
	if err != nil {
		t.Fatalf("create ad-hoc plot: %v", err)
	}
	if _, err := f.svc.RemovePlotFromTotals(ctx, f.actor, adHoc.ID); !errors.Is(err, domain.ErrAdHocMismatch) {
		t.Fatalf("expected ad-hoc plot rejected, got %v", err)
	}
}
