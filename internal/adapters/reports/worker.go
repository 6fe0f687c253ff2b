package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"restorationcore/internal/blob"
	"restorationcore/internal/core"
	"restorationcore/pkg/domain"
)

const (
	defaultQueueSize = 32
	defaultURLExpiry = 24 * time.Hour
	cleanupTimeout   = 10 * time.Second
	auditOperation   = "export_results"
)

// Worker renders exports asynchronously and stores the artifacts.
type Worker struct {
	source    ResultsSource
	store     blob.Store
	catalog   core.SpeciesCatalog
	audit     core.AuditRecorder
	logger    core.Logger
	clock     core.Clock
	keyPrefix string
	urlExpiry time.Duration

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	record ExportRecord
	done   chan struct{}
}

type exportTask struct {
	id    string
	input ExportInput
}

// Option customises a Worker.
type Option func(*Worker)

// WithCatalog resolves known species IDs to scientific names in tabular output.
func WithCatalog(catalog core.SpeciesCatalog) Option {
	return func(w *Worker) { w.catalog = catalog }
}

// WithAuditRecorder records each finished export.
func WithAuditRecorder(recorder core.AuditRecorder) Option {
	return func(w *Worker) {
		if recorder != nil {
			w.audit = recorder
		}
	}
}

// WithLogger overrides the worker logger. nil restores slog.Default().
func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
	}
}

// WithClock overrides the clock used for record timestamps.
func WithClock(clock core.Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithQueueSize bounds the number of pending exports.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan exportTask, n)
		}
	}
}

// WithKeyPrefix namespaces artifact keys inside the blob store.
func WithKeyPrefix(prefix string) Option {
	return func(w *Worker) { w.keyPrefix = strings.Trim(prefix, "/") }
}

// WithURLExpiry sets the lifetime of presigned artifact URLs.
func WithURLExpiry(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.urlExpiry = d
		}
	}
}

// NewWorker constructs an export worker. Call Start before enqueuing.
func NewWorker(source ResultsSource, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:    source,
		store:     store,
		audit:     noopAudit{},
		logger:    slog.Default(),
		clock:     core.ClockFunc(nil),
		keyPrefix: "exports",
		urlExpiry: defaultURLExpiry,
		queue:     make(chan exportTask, defaultQueueSize),
		jobs:      make(map[string]*job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, core.AuditEntry) {}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the running export to finish.
// Queued exports that never started stay queued.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport validates and schedules an export, returning the queued record.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.source == nil || w.store == nil {
		return ExportRecord{}, fmt.Errorf("export worker not configured")
	}
	if err := w.ctx.Err(); err != nil {
		return ExportRecord{}, fmt.Errorf("export worker stopped")
	}
	switch input.Kind {
	case KindObservationResults:
		if strings.TrimSpace(input.ObservationID) == "" {
			return ExportRecord{}, fmt.Errorf("observation id required: %w", domain.ErrInvalidArgument)
		}
	case KindSiteSummary:
		if strings.TrimSpace(input.SiteID) == "" {
			return ExportRecord{}, fmt.Errorf("site id required: %w", domain.ErrInvalidArgument)
		}
	default:
		return ExportRecord{}, fmt.Errorf("unknown export kind %q: %w", input.Kind, domain.ErrInvalidArgument)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, raw := range formats {
		format, err := ParseFormat(string(raw))
		if err != nil {
			return ExportRecord{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidArgument)
		}
		if _, dup := seen[format]; dup {
			continue
		}
		seen[format] = struct{}{}
		uniq = append(uniq, format)
	}

	now := w.clock.Now()
	record := ExportRecord{
		ID:            uuid.NewString(),
		Kind:          input.Kind,
		ObservationID: input.ObservationID,
		SiteID:        input.SiteID,
		Formats:       uniq,
		Status:        ExportStatusQueued,
		RequestedBy:   input.Actor.ID,
		Reason:        input.Reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.Kind == KindSiteSummary {
		asOf := input.AsOf
		if asOf.IsZero() {
			asOf = now
		}
		asOf = asOf.UTC()
		record.AsOf = &asOf
		input.AsOf = asOf
	}

	w.mu.Lock()
	w.jobs[record.ID] = &job{record: record, done: make(chan struct{})}
	w.mu.Unlock()

	select {
	case w.queue <- exportTask{id: record.ID, input: input}:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return ExportRecord{}, fmt.Errorf("export queue full")
	}
	w.logger.Debug("export queued", "export_id", record.ID, "kind", record.Kind, "actor", input.Actor.ID)
	return record.copy(), nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return j.record.copy(), true
}

// Await blocks until the export succeeds or fails, or ctx ends.
func (w *Worker) Await(ctx context.Context, id string) (ExportRecord, error) {
	w.mu.RLock()
	j, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return ExportRecord{}, fmt.Errorf("export %s: %w", id, domain.ErrNotFound)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return ExportRecord{}, ctx.Err()
	}
	record, _ := w.GetExport(id)
	if record.Status == ExportStatusFailed {
		return record, errors.New(record.Error)
	}
	return record, nil
}

func (w *Worker) process(task exportTask) {
	start := w.clock.Now()
	w.setStatus(task.id, ExportStatusRunning)

	artifacts, err := w.export(task)
	if err != nil {
		w.removePartial(artifacts)
		w.logger.Error("export failed", "export_id", task.id, "kind", task.input.Kind, "error", err)
		w.finish(task, nil, err, start)
		return
	}
	w.logger.Info("export stored", "export_id", task.id, "kind", task.input.Kind, "artifacts", len(artifacts))
	w.finish(task, artifacts, nil, start)
}

// removePartial deletes the artifacts of a failed export. It outlives Stop,
// which cancels the worker context before in-flight exports return.
func (w *Worker) removePartial(artifacts []ExportArtifact) {
	if len(artifacts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), cleanupTimeout)
	defer cancel()
	for _, a := range artifacts {
		if _, err := w.store.Delete(ctx, a.Key); err != nil {
			w.logger.Warn("artifact cleanup failed", "key", a.Key, "error", err)
		}
	}
}

func (w *Worker) export(task exportTask) ([]ExportArtifact, error) {
	record, ok := w.GetExport(task.id)
	if !ok {
		return nil, fmt.Errorf("export %s vanished", task.id)
	}
	names := newSpeciesNamer(w.ctx, w.catalog)

	var (
		doc    any
		tables []table
		scope  string
	)
	switch task.input.Kind {
	case KindObservationResults:
		res, err := w.source.GetObservationResults(w.ctx, task.input.Actor, task.input.ObservationID)
		if err != nil {
			return nil, err
		}
		doc, tables, scope = res, observationTables(res, names), res.Observation.ID
	case KindSiteSummary:
		sum, err := w.source.GetSiteSummary(w.ctx, task.input.Actor, task.input.SiteID, task.input.AsOf)
		if err != nil {
			return nil, err
		}
		doc, tables, scope = sum, summaryTables(sum, names), sum.SiteID
	}

	out := make([]ExportArtifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, err := materialize(format, doc, tables)
		if err != nil {
			return out, err
		}
		artifact, err := w.put(task, format, scope, payload)
		if err != nil {
			return out, fmt.Errorf("store %s artifact: %w", format, err)
		}
		out = append(out, artifact)
	}
	return out, nil
}

func materialize(format Format, doc any, tables []table) ([]byte, error) {
	switch format {
	case FormatJSON:
		return encodeJSON(doc)
	case FormatCSV:
		return encodeCSV(tables)
	case FormatXLSX:
		return encodeXLSX(tables)
	default:
		return nil, fmt.Errorf("unsupported export format %s", format)
	}
}

// artifactKey lays artifacts out as <prefix>/<kind>/<scope>/<export id>.<ext>.
func (w *Worker) artifactKey(kind Kind, scope, exportID string, format Format) string {
	return path.Join(w.keyPrefix, string(kind), scope, exportID+"."+string(format))
}

func (w *Worker) put(task exportTask, format Format, scope string, payload []byte) (ExportArtifact, error) {
	key := w.artifactKey(task.input.Kind, scope, task.id, format)
	metadata := map[string]string{
		"export_id":    task.id,
		"kind":         string(task.input.Kind),
		"requested_by": task.input.Actor.ID,
	}
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: format.contentType(), Metadata: metadata})
	if err != nil {
		return ExportArtifact{}, err
	}
	url := info.URL
	if signed, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{Expiry: w.urlExpiry}); err == nil {
		url = signed
	} else if !errors.Is(err, blob.ErrUnsupported) {
		w.logger.Warn("presign failed", "key", key, "error", err)
	}
	size := info.Size
	if size == 0 {
		size = int64(len(payload))
	}
	created := info.LastModified
	if created.IsZero() {
		created = w.clock.Now()
	}
	return ExportArtifact{
		Key:         key,
		Format:      format,
		ContentType: format.contentType(),
		SizeBytes:   size,
		ETag:        info.ETag,
		URL:         url,
		Metadata:    metadata,
		CreatedAt:   created,
	}, nil
}

func (w *Worker) setStatus(id string, status ExportStatus) {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if j, ok := w.jobs[id]; ok {
		j.record.Status = status
		j.record.UpdatedAt = now
	}
}

func (w *Worker) finish(task exportTask, artifacts []ExportArtifact, err error, start time.Time) {
	now := w.clock.Now()
	status := ExportStatusSucceeded
	if err != nil {
		status = ExportStatusFailed
	}
	var done chan struct{}
	w.mu.Lock()
	if j, ok := w.jobs[task.id]; ok {
		j.record.Status = status
		j.record.Artifacts = artifacts
		j.record.UpdatedAt = now
		j.record.CompletedAt = &now
		if err != nil {
			j.record.Error = err.Error()
		}
		done = j.done
	}
	w.mu.Unlock()

	entry := core.AuditEntry{
		Operation: auditOperation,
		Entity:    domain.EntityObservation,
		Action:    core.ActionCreate,
		EntityID:  task.input.ObservationID,
		Actor:     task.input.Actor.ID,
		Status:    core.AuditStatusSuccess,
		Duration:  now.Sub(start),
		Timestamp: now,
	}
	if task.input.Kind == KindSiteSummary {
		entry.Entity = domain.EntityPlantingSite
		entry.EntityID = task.input.SiteID
	}
	if err != nil {
		entry.Status = core.AuditStatusError
		entry.Error = err.Error()
	}
	w.audit.Record(w.ctx, entry)

	// Waiters observe the audit entry already recorded.
	if done != nil {
		close(done)
	}
}
