package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"restorationcore/pkg/domain"
)

type fixture struct {
	site    domain.PlantingSite
	history domain.PlantingSiteHistory
	zone    domain.PlantingZone
	subzone domain.PlantingSubzone
	plot    domain.MonitoringPlot
	plotH   domain.MonitoringPlotHistory
	species domain.Species
}

func seed(t *testing.T, store *Store) fixture {
	t.Helper()
	var f fixture
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if f.site, err = tx.CreateSite(domain.PlantingSite{OrganizationID: "org", Name: "Site"}); err != nil {
			return err
		}
		if f.history, err = tx.CreateSiteHistory(domain.PlantingSiteHistory{SiteID: f.site.ID}); err != nil {
			return err
		}
		if f.zone, err = tx.CreateZone(domain.PlantingZone{SiteID: f.site.ID, Name: "Z1"}); err != nil {
			return err
		}
		if f.subzone, err = tx.CreateSubzone(domain.PlantingSubzone{ZoneID: f.zone.ID, Name: "A"}); err != nil {
			return err
		}
		subzoneID := f.subzone.ID
		if f.plot, err = tx.CreatePlot(domain.MonitoringPlot{SiteID: f.site.ID, SubzoneID: &subzoneID, PlotNumber: 1, SizeMeters: 30, IsPermanent: true}); err != nil {
			return err
		}
		if f.plotH, err = tx.CreatePlotHistory(domain.MonitoringPlotHistory{PlotID: f.plot.ID, SiteHistoryID: f.history.ID, SubzoneID: &subzoneID}); err != nil {
			return err
		}
		f.species, err = tx.CreateSpecies(domain.Species{OrganizationID: "org", ScientificName: "Inga edulis"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(nil, WithNowFunc(func() time.Time { return fixed }))
	f := seed(t, store)

	if f.site.ID == "" || !f.site.CreatedAt.Equal(fixed) {
		t.Fatalf("expected generated ID and stamped time, got %+v", f.site)
	}
	if f.subzone.SiteID != f.site.ID || f.subzone.FullName != "Z1-A" {
		t.Fatalf("expected derived subzone fields, got %+v", f.subzone)
	}
	if f.plotH.SiteID != f.site.ID {
		t.Fatalf("expected history site id to follow the plot")
	}

	err := store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListSites()) != 1 || len(view.ListPlots(f.site.ID)) != 1 {
			t.Fatalf("expected persisted site and plot")
		}
		latest, ok := view.LatestPlotHistory(f.plot.ID)
		if !ok || latest.ID != f.plotH.ID {
			t.Fatalf("expected latest history %s, got %+v", f.plotH.ID, latest)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListSites()) != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.FindPlotHistory(f.plotH.ID); !ok {
			t.Fatalf("expected restored history")
		}
		return nil
	})
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	f := seed(t, store)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateObservation(domain.Observation{SiteID: f.site.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListObservations(f.site.ID)) != 0 {
			t.Fatalf("expected rolled back observation")
		}
		return nil
	})
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateSite(domain.PlantingSite{Name: "Fail"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state classification")
	}
	if len(violation.Result.Violations) != 1 {
		t.Fatalf("expected one violation")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

type recordingRule struct{ changes []domain.Change }

func (r *recordingRule) Name() string { return "record" }

func (r *recordingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	r.changes = append(r.changes, changes...)
	return domain.Result{}, nil
}

func TestObservationLifecycleMutations(t *testing.T) {
	store := NewStore(nil)
	f := seed(t, store)
	recorder := &recordingRule{}
	store.RulesEngine().Register(recorder)
	ctx := context.Background()

	var obs domain.Observation
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		first, err := tx.CreateObservation(domain.Observation{SiteID: f.site.ID, SiteHistoryID: f.history.ID})
		if err != nil {
			return err
		}
		if first.Sequence != 1 || first.State != domain.ObservationUpcoming {
			t.Fatalf("expected first sequence and default state, got %+v", first)
		}
		obs, err = tx.CreateObservation(domain.Observation{SiteID: f.site.ID, SiteHistoryID: f.history.ID})
		if err != nil {
			return err
		}
		if obs.Sequence != 2 {
			t.Fatalf("expected monotonic sequence, got %d", obs.Sequence)
		}
		if _, err := tx.CreateObservationPlot(domain.ObservationPlot{ObservationID: obs.ID, PlotID: f.plot.ID, PlotHistoryID: f.plotH.ID, IsPermanent: true}); err != nil {
			return err
		}
		_, err = tx.CreateObservationPlot(domain.ObservationPlot{ObservationID: obs.ID, PlotID: f.plot.ID, PlotHistoryID: f.plotH.ID})
		if !errors.Is(err, domain.ErrDuplicateAssignment) {
			t.Fatalf("expected duplicate assignment, got %v", err)
		}
		plants, err := tx.ReplaceRecordedPlants(obs.ID, f.plot.ID, []domain.RecordedPlant{
			{Species: domain.KnownSpecies(f.species.ID), Status: domain.PlantLive},
			{Species: domain.OtherSpecies("Vine"), Status: domain.PlantDead},
		})
		if err != nil {
			return err
		}
		if len(plants) != 2 || plants[0].ID == "" || plants[0].ObservationID != obs.ID {
			t.Fatalf("expected stamped plants, got %+v", plants)
		}
		_, err = tx.PutSpeciesTotals(domain.SpeciesTotals{ObservationID: obs.ID, Level: domain.LevelPlot, ScopeID: f.plot.ID, Species: domain.KnownSpecies(f.species.ID), TotalLive: 1})
		return err
	})
	if err != nil {
		t.Fatalf("create observation: %v", err)
	}
	if len(recorder.changes) == 0 {
		t.Fatalf("expected changes to reach the rules engine")
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		updated, err := tx.UpdateObservationPlot(obs.ID, f.plot.ID, func(op *domain.ObservationPlot) error {
			op.Status = domain.PlotClaimed
			op.PlotHistoryID = "tampered"
			return nil
		})
		if err != nil {
			return err
		}
		if updated.PlotHistoryID != f.plotH.ID {
			t.Fatalf("history binding must be immutable")
		}
		assignments := tx.ListPlotAssignments(f.plot.ID)
		if len(assignments) != 1 || assignments[0].Status != domain.PlotClaimed {
			t.Fatalf("unexpected plot assignments %+v", assignments)
		}
		_, err = tx.UpdateObservationPlot(obs.ID, "missing", func(*domain.ObservationPlot) error { return nil })
		if !errors.Is(err, domain.ErrPlotNotInObservation) {
			t.Fatalf("expected plot not in observation, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update assignment: %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteObservation(obs.ID)
	})
	if err != nil {
		t.Fatalf("delete observation: %v", err)
	}
	_ = store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindObservation(obs.ID); ok {
			t.Fatalf("expected observation deleted")
		}
		if len(view.ListPlotAssignments(f.plot.ID)) != 0 {
			t.Fatalf("expected cascaded assignment delete")
		}
		if len(view.ListRecordedPlants(obs.ID, f.plot.ID)) != 0 {
			t.Fatalf("expected cascaded plant delete")
		}
		if len(view.ListSpeciesTotals(obs.ID, domain.LevelPlot)) != 0 {
			t.Fatalf("expected cascaded totals delete")
		}
		return nil
	})
}

func TestReferentialChecks(t *testing.T) {
	store := NewStore(nil)
	f := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateZone(domain.PlantingZone{SiteID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing site, got %v", err)
		}
		if _, err := tx.CreateObservation(domain.Observation{SiteID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing site, got %v", err)
		}
		if _, err := tx.UpdateSite("missing", func(*domain.PlantingSite) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing site, got %v", err)
		}
		if err := tx.DeleteSubzone(f.subzone.ID); err == nil {
			t.Fatalf("expected referenced subzone delete to fail")
		}
		if err := tx.DeleteZone(f.zone.ID); err == nil {
			t.Fatalf("expected referenced zone delete to fail")
		}
		if _, err := tx.ReplaceRecordedPlants("obs", f.plot.ID, nil); !errors.Is(err, domain.ErrPlotNotInObservation) {
			t.Fatalf("expected unassigned plot error, got %v", err)
		}
		if err := tx.PutPlotT0Density(domain.PlotT0Density{PlotID: f.plot.ID, SpeciesID: "missing", Density: 1}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing species, got %v", err)
		}
		if err := tx.DeleteSpeciesTotals("obs", domain.TotalsKey{}); err != nil {
			t.Fatalf("expected missing totals delete to be a no-op: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestPlotOverlapsAreMirrored(t *testing.T) {
	store := NewStore(nil)
	f := seed(t, store)
	var newer domain.MonitoringPlot
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		newer, err = tx.CreatePlot(domain.MonitoringPlot{SiteID: f.site.ID, SubzoneID: f.plot.SubzoneID, PlotNumber: 2, OverlapsPlotIDs: []string{f.plot.ID}})
		return err
	})
	if err != nil {
		t.Fatalf("create plot: %v", err)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		older, _ := view.FindPlot(f.plot.ID)
		if len(older.OverlappedByPlotIDs) != 1 || older.OverlappedByPlotIDs[0] != newer.ID {
			t.Fatalf("expected mirrored overlap, got %+v", older.OverlappedByPlotIDs)
		}
		return nil
	})
}

func TestT0DensityMutations(t *testing.T) {
	store := NewStore(nil)
	f := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.PutPlotT0Density(domain.PlotT0Density{PlotID: f.plot.ID, SpeciesID: f.species.ID, Density: 10}); err != nil {
			return err
		}
		if err := tx.PutZoneT0Density(domain.ZoneT0Density{ZoneID: f.zone.ID, SpeciesID: f.species.ID, Density: 4}); err != nil {
			return err
		}
		if got := tx.ListPlotT0Densities(f.plot.ID); len(got) != 1 || got[0].Density != 10 {
			t.Fatalf("unexpected plot densities %+v", got)
		}
		if err := tx.DeletePlotT0Density(f.plot.ID, f.species.ID); err != nil {
			return err
		}
		if err := tx.DeleteZoneT0Density(f.zone.ID, f.species.ID); err != nil {
			return err
		}
		if len(tx.ListPlotT0Densities(f.plot.ID)) != 0 || len(tx.ListZoneT0Densities(f.zone.ID)) != 0 {
			t.Fatalf("expected densities removed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("t0 transaction: %v", err)
	}
}

func TestMigrateSnapshotDerivesLatestHistory(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	snapshot := Snapshot{
		PlotHistories: map[string]domain.MonitoringPlotHistory{
			"h1": {ID: "h1", PlotID: "p", CreatedAt: early},
			"h2": {ID: "h2", PlotID: "p", CreatedAt: late},
		},
		LatestPlotHistories: map[string]string{"q": "dangling"},
		Observations:        map[string]domain.Observation{"o": {Base: domain.Base{ID: "o"}, Sequence: 7}},
		ObservationPlots:    []domain.ObservationPlot{{ObservationID: "o", PlotID: "p"}},
	}
	migrated := migrateSnapshot(snapshot)
	if migrated.LatestPlotHistories["p"] != "h2" {
		t.Fatalf("expected latest history h2, got %q", migrated.LatestPlotHistories["p"])
	}
	if _, ok := migrated.LatestPlotHistories["q"]; ok {
		t.Fatalf("expected dangling pointer removed")
	}
	if migrated.Sequence != 7 {
		t.Fatalf("expected sequence bumped to 7, got %d", migrated.Sequence)
	}
	if migrated.ObservationPlots[0].Status != domain.PlotUnclaimed {
		t.Fatalf("expected default status")
	}
}
