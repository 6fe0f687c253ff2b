package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"restorationcore/pkg/domain"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

// tickingClock advances by one minute on every reading.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(entry string) {
	c.mu.Lock()
	c.calls = append(c.calls, entry)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

const testOrg = "org-1"

// fixture is a site with one zone, two subzones, two permanent plots in the
// first subzone and one temporary plot in the second.
type fixture struct {
	svc      *Service
	actor    Actor
	other    Actor
	site     PlantingSite
	zone     PlantingZone
	s1, s2   PlantingSubzone
	p1, p2   MonitoringPlot
	p3       MonitoringPlot
	speciesX Species
	speciesY Species
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	opts = append([]Option{WithClock(newTickingClock())}, opts...)
	svc := NewInMemoryService(nil, opts...)
	f := &fixture{
		svc:   svc,
		actor: Actor{ID: "ranger-1", OrganizationID: testOrg},
		other: Actor{ID: "ranger-2", OrganizationID: testOrg},
	}
	var err error
	if f.site, _, err = svc.CreatePlantingSite(ctx, f.actor, PlantingSite{OrganizationID: testOrg, Name: "Ridge"}); err != nil {
		t.Fatalf("create site: %v", err)
	}
	if f.zone, _, err = svc.CreateZone(ctx, f.actor, PlantingZone{SiteID: f.site.ID, Name: "North"}); err != nil {
		t.Fatalf("create zone: %v", err)
	}
	if f.s1, _, err = svc.CreateSubzone(ctx, f.actor, PlantingSubzone{ZoneID: f.zone.ID, Name: "A"}); err != nil {
		t.Fatalf("create subzone: %v", err)
	}
	if f.s2, _, err = svc.CreateSubzone(ctx, f.actor, PlantingSubzone{ZoneID: f.zone.ID, Name: "B"}); err != nil {
		t.Fatalf("create subzone: %v", err)
	}
	f.p1 = f.plot(t, 1, f.s1.ID, true)
	f.p2 = f.plot(t, 2, f.s1.ID, true)
	f.p3 = f.plot(t, 3, f.s2.ID, false)
	if f.speciesX, _, err = svc.CreateSpecies(ctx, f.actor, Species{OrganizationID: testOrg, ScientificName: "Quercus robur", CommonName: "oak"}); err != nil {
		t.Fatalf("create species: %v", err)
	}
	if f.speciesY, _, err = svc.CreateSpecies(ctx, f.actor, Species{OrganizationID: testOrg, ScientificName: "Betula pendula"}); err != nil {
		t.Fatalf("create species: %v", err)
	}
	return f
}

func (f *fixture) plot(t *testing.T, number int64, subzoneID string, permanent bool) MonitoringPlot {
	t.Helper()
	plot, _, err := f.svc.CreatePlot(context.Background(), f.actor, MonitoringPlot{
		SiteID:      f.site.ID,
		SubzoneID:   ptr(subzoneID),
		PlotNumber:  number,
		SizeMeters:  25,
		IsPermanent: permanent,
	})
	if err != nil {
		t.Fatalf("create plot %d: %v", number, err)
	}
	return plot
}

func (f *fixture) x() SpeciesKey { return domain.KnownSpecies(f.speciesX.ID) }
func (f *fixture) y() SpeciesKey { return domain.KnownSpecies(f.speciesY.ID) }

// newObservation schedules an observation with p1 and p2 assigned as
// permanent plots and p3 as a temporary plot.
func (f *fixture) newObservation(t *testing.T) Observation {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	obs, _, err := f.svc.CreateObservation(ctx, f.actor, ObservationInput{
		SiteID:    f.site.ID,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("create observation: %v", err)
	}
	if _, err := f.svc.AssignPlots(ctx, f.actor, obs.ID, []string{f.p1.ID, f.p2.ID}, true); err != nil {
		t.Fatalf("assign permanent plots: %v", err)
	}
	if _, err := f.svc.AssignPlots(ctx, f.actor, obs.ID, []string{f.p3.ID}, false); err != nil {
		t.Fatalf("assign temporary plot: %v", err)
	}
	return obs
}

func (f *fixture) complete(t *testing.T, observationID, plotID string, plants ...[]RecordedPlant) ObservationPlot {
	t.Helper()
	var all []RecordedPlant
	for _, group := range plants {
		all = append(all, group...)
	}
	op, _, err := f.svc.CompletePlot(context.Background(), f.actor, observationID, plotID, CompletePlotInput{Plants: all})
	if err != nil {
		t.Fatalf("complete plot %s: %v", plotID, err)
	}
	return op
}

func (f *fixture) observation(t *testing.T, id string) Observation {
	t.Helper()
	obs, err := f.svc.GetObservation(context.Background(), f.actor, id)
	if err != nil {
		t.Fatalf("get observation: %v", err)
	}
	return obs
}

func (f *fixture) assignment(t *testing.T, observationID, plotID string) ObservationPlot {
	t.Helper()
	var (
		op ObservationPlot
		ok bool
	)
	_ = f.svc.Store().View(context.Background(), func(view TransactionView) error {
		op, ok = view.FindObservationPlot(observationID, plotID)
		return nil
	})
	if !ok {
		t.Fatalf("assignment %s/%s not found", observationID, plotID)
	}
	return op
}

func (f *fixture) totals(observationID string, level domain.TotalsLevel, scopeID string, key SpeciesKey) (SpeciesTotals, bool) {
	var (
		row SpeciesTotals
		ok  bool
	)
	_ = f.svc.Store().View(context.Background(), func(view TransactionView) error {
		row, ok = view.FindSpeciesTotals(observationID, TotalsKey{Level: level, ScopeID: scopeID, Species: key})
		return nil
	})
	return row, ok
}

func (f *fixture) mustTotals(t *testing.T, observationID string, level domain.TotalsLevel, scopeID string, key SpeciesKey) SpeciesTotals {
	t.Helper()
	row, ok := f.totals(observationID, level, scopeID, key)
	if !ok {
		t.Fatalf("expected %s totals for %s in %s", level, key, scopeID)
	}
	return row
}

func plantsOf(key SpeciesKey, status domain.PlantStatus, n int) []RecordedPlant {
	out := make([]RecordedPlant, n)
	for i := range out {
		out[i] = RecordedPlant{Species: key, Status: status, Position: domain.Position{Latitude: 1, Longitude: float64(i)}}
	}
	return out
}

func live(key SpeciesKey, n int) []RecordedPlant { return plantsOf(key, domain.PlantLive, n) }
func dead(key SpeciesKey, n int) []RecordedPlant { return plantsOf(key, domain.PlantDead, n) }

func intValue(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
