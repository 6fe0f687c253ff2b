// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. Durable backends wrap it and
// snapshot its state after every commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"restorationcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.TransactionView = transactionView{}
)

// Option customizes a Store.
type Option func(*Store)

// WithNowFunc overrides the clock used for CreatedAt/UpdatedAt stamps.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// Store provides an in-memory transactional store for the core domain.
// Committed state is never mutated in place: every transaction works on a
// clone that replaces the committed state on success.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy is committed only when fn succeeds and no blocking rule violation
// is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.transactionView, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	return fn(transactionView{state: &state})
}

type transaction struct {
	transactionView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// TransactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView { return tx.transactionView }

// Now returns the transaction timestamp.
func (tx *transaction) Now() time.Time { return tx.now }

func (v transactionView) FindSite(id string) (PlantingSite, bool) {
	site, ok := v.state.sites[id]
	return site, ok
}

func (v transactionView) ListSites() []PlantingSite {
	out := make([]PlantingSite, 0, len(v.state.sites))
	for _, site := range v.state.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindZone(id string) (PlantingZone, bool) {
	zone, ok := v.state.zones[id]
	return zone, ok
}

func (v transactionView) ListZones(siteID string) []PlantingZone {
	var out []PlantingZone
	for _, zone := range v.state.zones {
		if zone.SiteID == siteID {
			out = append(out, zone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindSubzone(id string) (PlantingSubzone, bool) {
	subzone, ok := v.state.subzones[id]
	if !ok {
		return PlantingSubzone{}, false
	}
	return cloneSubzone(subzone), true
}

func (v transactionView) ListSubzones(siteID string) []PlantingSubzone {
	var out []PlantingSubzone
	for _, subzone := range v.state.subzones {
		if subzone.SiteID == siteID {
			out = append(out, cloneSubzone(subzone))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindPlot(id string) (MonitoringPlot, bool) {
	plot, ok := v.state.plots[id]
	if !ok {
		return MonitoringPlot{}, false
	}
	return clonePlot(plot), true
}

func (v transactionView) ListPlots(siteID string) []MonitoringPlot {
	var out []MonitoringPlot
	for _, plot := range v.state.plots {
		if plot.SiteID == siteID {
			out = append(out, clonePlot(plot))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlotNumber != out[j].PlotNumber {
			return out[i].PlotNumber < out[j].PlotNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindPlotHistory(id string) (MonitoringPlotHistory, bool) {
	h, ok := v.state.plotHistories[id]
	if !ok {
		return MonitoringPlotHistory{}, false
	}
	return cloneHistory(h), true
}

func (v transactionView) LatestPlotHistory(plotID string) (MonitoringPlotHistory, bool) {
	id, ok := v.state.latestHistory[plotID]
	if !ok {
		return MonitoringPlotHistory{}, false
	}
	return v.FindPlotHistory(id)
}

func (v transactionView) FindSpecies(id string) (Species, bool) {
	sp, ok := v.state.species[id]
	return sp, ok
}

func (v transactionView) ListSpecies(organizationID string) []Species {
	var out []Species
	for _, sp := range v.state.species {
		if organizationID == "" || sp.OrganizationID == organizationID {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScientificName != out[j].ScientificName {
			return out[i].ScientificName < out[j].ScientificName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindObservation(id string) (Observation, bool) {
	o, ok := v.state.observations[id]
	if !ok {
		return Observation{}, false
	}
	return cloneObservation(o), true
}

func (v transactionView) ListObservations(siteID string) []Observation {
	var out []Observation
	for _, o := range v.state.observations {
		if o.SiteID == siteID {
			out = append(out, cloneObservation(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (v transactionView) FindObservationPlot(observationID, plotID string) (ObservationPlot, bool) {
	op, ok := v.state.assignments[observationID][plotID]
	if !ok {
		return ObservationPlot{}, false
	}
	return cloneObservationPlot(op), true
}

func (v transactionView) ListObservationPlots(observationID string) []ObservationPlot {
	byPlot := v.state.assignments[observationID]
	out := make([]ObservationPlot, 0, len(byPlot))
	for _, op := range byPlot {
		out = append(out, cloneObservationPlot(op))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlotID < out[j].PlotID })
	return out
}

func (v transactionView) ListPlotAssignments(plotID string) []ObservationPlot {
	idx := v.state.plotIndex[plotID]
	out := make([]ObservationPlot, 0, len(idx))
	for obsID := range idx {
		if op, ok := v.state.assignments[obsID][plotID]; ok {
			out = append(out, cloneObservationPlot(op))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return v.state.observations[out[i].ObservationID].Sequence < v.state.observations[out[j].ObservationID].Sequence
	})
	return out
}

func (v transactionView) ListRecordedPlants(observationID, plotID string) []RecordedPlant {
	plants := v.state.plants[observationID][plotID]
	out := make([]RecordedPlant, len(plants))
	copy(out, plants)
	return out
}

func (v transactionView) FindSpeciesTotals(observationID string, key TotalsKey) (SpeciesTotals, bool) {
	row, ok := v.state.totals[observationID][key]
	if !ok {
		return SpeciesTotals{}, false
	}
	return cloneTotals(row), true
}

func (v transactionView) ListSpeciesTotals(observationID string, level domain.TotalsLevel) []SpeciesTotals {
	var out []SpeciesTotals
	for key, row := range v.state.totals[observationID] {
		if key.Level == level {
			out = append(out, cloneTotals(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return totalsLess(out[i], out[j]) })
	return out
}

func (v transactionView) ListPlotT0Densities(plotID string) []PlotT0Density {
	bySpecies := v.state.plotT0[plotID]
	out := make([]PlotT0Density, 0, len(bySpecies))
	for _, d := range bySpecies {
		out = append(out, clonePlotDensity(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeciesID < out[j].SpeciesID })
	return out
}

func (v transactionView) ListZoneT0Densities(zoneID string) []ZoneT0Density {
	bySpecies := v.state.zoneT0[zoneID]
	out := make([]ZoneT0Density, 0, len(bySpecies))
	for _, d := range bySpecies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeciesID < out[j].SpeciesID })
	return out
}

func (v transactionView) FindPlotT0Observation(plotID string) (PlotT0Observation, bool) {
	t0, ok := v.state.t0Observations[plotID]
	return t0, ok
}
