package core

import (
	"context"
	"log/slog"
	"time"

	"restorationcore/internal/infra/persistence/memory"
	"restorationcore/pkg/domain"
)

// Service exposes the transactional observation and rollup operations. Every
// mutating call is a single store transaction; the rules engine attached to
// the store validates the resulting change set before commit.
type Service struct {
	store       PersistentStore
	now         func() time.Time
	logger      Logger
	audit       AuditRecorder
	metrics     MetricsRecorder
	tracer      Tracer
	permissions PermissionOracle
	catalog     SpeciesCatalog
}

type serviceOptions struct {
	clock         Clock
	explicitClock bool
	logger        Logger
	audit         AuditRecorder
	metrics       MetricsRecorder
	tracer        Tracer
	permissions   PermissionOracle
	catalog       SpeciesCatalog
}

// Option customizes a Service.
type Option func(*serviceOptions)

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:       ClockFunc(nil),
		logger:      slog.Default(),
		audit:       noopAuditRecorder{},
		metrics:     noopMetricsRecorder{},
		tracer:      noopTracer{},
		permissions: AllowAll{},
	}
}

// WithClock overrides the clock used for claim, completion, and audit stamps.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
			o.explicitClock = true
		}
	}
}

// WithLogger overrides the service logger. nil restores slog.Default().
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger == nil {
			o.logger = slog.Default()
			return
		}
		o.logger = logger
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPermissionOracle installs the capability checker. The default allows everything.
func WithPermissionOracle(oracle PermissionOracle) Option {
	return func(o *serviceOptions) {
		if oracle != nil {
			o.permissions = oracle
		}
	}
}

// WithSpeciesCatalog overrides the species reference store. The default reads
// the service store's species records.
func WithSpeciesCatalog(catalog SpeciesCatalog) Option {
	return func(o *serviceOptions) {
		if catalog != nil {
			o.catalog = catalog
		}
	}
}

func resolveOptions(opts []Option) serviceOptions {
	resolved := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	return resolved
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	resolved := resolveOptions(opts)
	var clock Clock
	if resolved.explicitClock {
		clock = resolved.clock
	}
	svc := &Service{
		store:       store,
		now:         selectNowFunc(store, clock),
		logger:      resolved.logger,
		audit:       resolved.audit,
		metrics:     resolved.metrics,
		tracer:      resolved.tracer,
		permissions: resolved.permissions,
		catalog:     resolved.catalog,
	}
	if svc.catalog == nil {
		svc.catalog = NewStoreCatalog(store)
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs NewDefaultRulesEngine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	resolved := resolveOptions(opts)
	var storeOpts []memory.Option
	if resolved.explicitClock {
		storeOpts = append(storeOpts, memory.WithNowFunc(resolved.clock.Now))
	}
	return NewService(memory.NewStore(engine, storeOpts...), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// RulesEngine returns the store's engine when the store exposes one.
func (s *Service) RulesEngine() *RulesEngine {
	return extractRulesEngine(s.store)
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

// selectNowFunc prefers an explicit clock, then the store's own time source,
// then system UTC.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		return func() time.Time { return clock.Now().UTC() }
	}
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return func() time.Time { return time.Now().UTC() }
}

type operationMeta struct {
	entity EntityType
	action Action
}

var operationMetadata = map[string]operationMeta{
	"create_planting_site":           {domain.EntityPlantingSite, ActionCreate},
	"update_planting_site":           {domain.EntityPlantingSite, ActionUpdate},
	"apply_map_edit":                 {domain.EntitySiteHistory, ActionCreate},
	"create_zone":                    {domain.EntityPlantingZone, ActionCreate},
	"create_subzone":                 {domain.EntityPlantingSubzone, ActionCreate},
	"set_subzone_planting_completed": {domain.EntityPlantingSubzone, ActionUpdate},
	"create_plot":                    {domain.EntityMonitoringPlot, ActionCreate},
	"create_species":                 {domain.EntitySpecies, ActionCreate},
	"create_observation":             {domain.EntityObservation, ActionCreate},
	"schedule_ad_hoc_observation":    {domain.EntityObservation, ActionCreate},
	"reschedule_observation":         {domain.EntityObservation, ActionUpdate},
	"update_observation_state":       {domain.EntityObservation, ActionUpdate},
	"abandon_observation":            {domain.EntityObservation, ActionUpdate},
	"populate_cumulative_dead":       {domain.EntitySpeciesTotals, ActionCreate},
	"assign_plots":                   {domain.EntityObservationPlot, ActionCreate},
	"remove_plots_from_observation":  {domain.EntityObservationPlot, ActionDelete},
	"claim_plot":                     {domain.EntityObservationPlot, ActionUpdate},
	"release_plot":                   {domain.EntityObservationPlot, ActionUpdate},
	"complete_plot":                  {domain.EntityObservationPlot, ActionUpdate},
	"edit_plot_plants":               {domain.EntityRecordedPlant, ActionUpdate},
	"merge_other_species":            {domain.EntityRecordedPlant, ActionUpdate},
	"remove_plot_from_totals":        {domain.EntitySpeciesTotals, ActionUpdate},
	"assign_t0_plot_observation":     {domain.EntityPlotT0Density, ActionUpdate},
	"assign_t0_plot_densities":       {domain.EntityPlotT0Density, ActionUpdate},
	"assign_t0_zone_densities":       {domain.EntityZoneT0Density, ActionUpdate},
}

// run wraps a transactional operation with tracing, metrics, audit, and
// logging. fn returns the ID of the primary entity it touched.
func (s *Service) run(ctx context.Context, op string, actor Actor, fn func(tx Transaction) (string, error)) (Result, error) {
	ctx = ContextWithActor(ctx, actor)
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	var entityID string
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("restorationcore operation failed", "operation", op, "actor", actor.ID, "error", err, "duration_ms", duration.Milliseconds())
		s.recordAuditError(ctx, op, actor, entityID, duration, err)
		return res, err
	}
	for _, v := range res.Violations {
		if v.Severity == SeverityWarn {
			s.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
		}
	}
	s.logger.Debug("restorationcore operation", "operation", op, "actor", actor.ID, "entity_id", entityID, "duration_ms", duration.Milliseconds())
	s.recordAudit(ctx, op, actor, entityID, duration)
	return res, nil
}

// view wraps a read-only query with tracing and metrics.
func (s *Service) view(ctx context.Context, op string, actor Actor, fn func(view TransactionView) error) error {
	ctx = ContextWithActor(ctx, actor)
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := s.store.View(ctx, fn)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Debug("restorationcore query failed", "operation", op, "actor", actor.ID, "error", err)
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, op string, actor Actor, entityID string, duration time.Duration) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     actor.ID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, op string, actor Actor, entityID string, duration time.Duration, err error) {
	meta := operationMetadata[op]
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     actor.ID,
		Status:    AuditStatusError,
		Duration:  duration,
		Timestamp: s.now(),
		Error:     err.Error(),
	})
}
