package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"restorationcore/internal/blob"
	"restorationcore/internal/core"
	"restorationcore/pkg/domain"
)

func TestExportFromInMemoryService(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := core.NewInMemoryService(nil, core.WithClock(core.ClockFunc(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})))
	actor := core.Actor{ID: "ranger-1", OrganizationID: "org-1"}

	site, _, err := svc.CreatePlantingSite(ctx, actor, core.PlantingSite{OrganizationID: "org-1", Name: "Ridge"})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}
	zone, _, err := svc.CreateZone(ctx, actor, core.PlantingZone{SiteID: site.ID, Name: "North"})
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	subzone, _, err := svc.CreateSubzone(ctx, actor, core.PlantingSubzone{ZoneID: zone.ID, Name: "A"})
	if err != nil {
		t.Fatalf("create subzone: %v", err)
	}
	plot, _, err := svc.CreatePlot(ctx, actor, core.MonitoringPlot{SiteID: site.ID, SubzoneID: &subzone.ID, PlotNumber: 4, SizeMeters: 25, IsPermanent: true})
	if err != nil {
		t.Fatalf("create plot: %v", err)
	}
	oak, _, err := svc.CreateSpecies(ctx, actor, core.Species{OrganizationID: "org-1", ScientificName: "Quercus robur"})
	if err != nil {
		t.Fatalf("create species: %v", err)
	}
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	obs, _, err := svc.CreateObservation(ctx, actor, core.ObservationInput{SiteID: site.ID, StartDate: start, EndDate: start.AddDate(0, 0, 30)})
	if err != nil {
		t.Fatalf("create observation: %v", err)
	}
	if _, err := svc.AssignPlots(ctx, actor, obs.ID, []string{plot.ID}, true); err != nil {
		t.Fatalf("assign plots: %v", err)
	}
	plants := []core.RecordedPlant{
		{Species: domain.KnownSpecies(oak.ID), Status: domain.PlantLive, Position: domain.Position{Latitude: 1, Longitude: 1}},
		{Species: domain.KnownSpecies(oak.ID), Status: domain.PlantLive, Position: domain.Position{Latitude: 1, Longitude: 2}},
		{Species: domain.KnownSpecies(oak.ID), Status: domain.PlantDead, Position: domain.Position{Latitude: 1, Longitude: 3}},
	}
	if _, _, err := svc.CompletePlot(ctx, actor, obs.ID, plot.ID, core.CompletePlotInput{Plants: plants}); err != nil {
		t.Fatalf("complete plot: %v", err)
	}

	store := blob.NewMemory()
	w := startWorker(t, svc, store, WithCatalog(core.NewStoreCatalog(svc.Store())))

	results, err := w.EnqueueExport(ctx, ExportInput{Kind: KindObservationResults, ObservationID: obs.ID, Formats: []Format{FormatCSV}, Actor: actor})
	if err != nil {
		t.Fatalf("enqueue results: %v", err)
	}
	record := awaitExport(t, w, results.ID)
	rows, err := csv.NewReader(bytes.NewReader(readArtifact(t, store, record.Artifacts[0].Key))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	var plotLine []string
	for _, row := range rows {
		if row[0] == "plot" && row[4] == "Quercus robur" {
			plotLine = row
		}
	}
	if plotLine == nil || plotLine[1] != "North" || plotLine[3] != "4" || plotLine[5] != "2" || plotLine[6] != "1" {
		t.Fatalf("expected oak plot line, got %v", rows)
	}

	summary, err := w.EnqueueExport(ctx, ExportInput{Kind: KindSiteSummary, SiteID: site.ID, AsOf: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), Formats: []Format{FormatCSV}, Actor: actor})
	if err != nil {
		t.Fatalf("enqueue summary: %v", err)
	}
	record = awaitExport(t, w, summary.ID)
	rows, err = csv.NewReader(bytes.NewReader(readArtifact(t, store, record.Artifacts[0].Key))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	var found bool
	for _, row := range rows {
		if row[0] == "subzone" && row[2] == "North-A" && row[3] == obs.ID && row[5] == "Quercus robur" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected subzone North-A summarised from %s, got %v", obs.ID, rows)
	}
}
