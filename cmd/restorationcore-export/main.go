// Command restorationcore-export renders the results of one observation, or
// the latest-per-subzone summary of a planting site, into the configured blob
// store and prints the export record as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"restorationcore/internal/adapters/reports"
	"restorationcore/internal/blob"
	"restorationcore/internal/config"
	"restorationcore/internal/core"
)

var exitFunc = os.Exit

type options struct {
	configPath    string
	observationID string
	siteID        string
	asOf          string
	formats       string
	actorID       string
	orgID         string
	reason        string
	timeout       time.Duration
	trace         bool
	metrics       bool
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("restorationcore-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&opts.observationID, "observation", "", "observation to export")
	fs.StringVar(&opts.siteID, "site", "", "planting site to summarise (exclusive with -observation)")
	fs.StringVar(&opts.asOf, "as-of", "", "summary cutoff, RFC3339 or YYYY-MM-DD (default now)")
	fs.StringVar(&opts.formats, "format", "", "comma separated formats: csv,json,xlsx (default from config)")
	fs.StringVar(&opts.actorID, "actor", "restorationcore-export", "actor recorded on the export")
	fs.StringVar(&opts.orgID, "org", "", "organization of the actor")
	fs.StringVar(&opts.reason, "reason", "", "free-text reason stored on the export record")
	fs.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")
	fs.BoolVar(&opts.trace, "trace", false, "write JSON trace spans to stderr")
	fs.BoolVar(&opts.metrics, "metrics", false, "print collected metric series to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (opts.observationID == "") == (opts.siteID == "") {
		_, _ = fmt.Fprintln(stderr, "exactly one of -observation or -site is required")
		return 2
	}
	if err := run(opts, stdout, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "export failed: %v\n", err)
		return 1
	}
	return 0
}

func run(opts options, stdout, stderr io.Writer) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	input, err := exportInput(opts, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	registry := prometheus.NewRegistry()
	promMetrics, err := core.NewPrometheusMetricsRecorder(registry, cfg.Metrics.Namespace)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	metrics := fanoutMetrics{promMetrics}
	if cfg.Metrics.Expvar {
		metrics = append(metrics, core.NewExpvarMetricsRecorder(""))
	}
	audit := auditLog{logger: logger}

	store, err := core.OpenPersistentStore(cfg.Storage, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close store: %w", cerr)
			}
		}()
	}

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithAuditRecorder(audit),
		core.WithMetricsRecorder(metrics),
	}
	if opts.trace {
		serviceOpts = append(serviceOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	svc := core.NewService(store, serviceOpts...)

	artifacts, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	worker := reports.NewWorker(svc, artifacts,
		reports.WithCatalog(core.NewStoreCatalog(store)),
		reports.WithLogger(logger),
		reports.WithAuditRecorder(audit),
		reports.WithKeyPrefix(cfg.Export.KeyPrefix),
		reports.WithQueueSize(cfg.Export.QueueSize),
	)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	queued, err := worker.EnqueueExport(ctx, input)
	if err != nil {
		return err
	}
	record, err := worker.Await(ctx, queued.ID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if opts.metrics {
		return dumpMetrics(registry, stderr)
	}
	return nil
}

func exportInput(opts options, cfg config.Config) (reports.ExportInput, error) {
	input := reports.ExportInput{
		Kind:          reports.KindObservationResults,
		ObservationID: opts.observationID,
		Actor:         core.Actor{ID: opts.actorID, OrganizationID: opts.orgID},
		Reason:        opts.reason,
		Formats:       cfg.ExportFormats(),
	}
	if opts.siteID != "" {
		input.Kind = reports.KindSiteSummary
		input.SiteID = opts.siteID
		if opts.asOf != "" {
			asOf, err := parseAsOf(opts.asOf)
			if err != nil {
				return reports.ExportInput{}, err
			}
			input.AsOf = asOf
		}
	}
	if strings.TrimSpace(opts.formats) != "" {
		input.Formats = nil
		for _, raw := range strings.Split(opts.formats, ",") {
			if raw = strings.TrimSpace(raw); raw == "" {
				continue
			}
			format, err := reports.ParseFormat(raw)
			if err != nil {
				return reports.ExportInput{}, err
			}
			input.Formats = append(input.Formats, format)
		}
	}
	return input, nil
}

// parseAsOf accepts RFC3339 or a bare date, which means the end of that day in UTC.
func parseAsOf(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -as-of %q: want RFC3339 or YYYY-MM-DD", raw)
	}
	return day.Add(24*time.Hour - time.Nanosecond), nil
}

type fanoutMetrics []core.MetricsRecorder

func (f fanoutMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, m := range f {
		m.Observe(ctx, operation, success, duration)
	}
}

// auditLog writes audit entries to the structured log.
type auditLog struct {
	logger *slog.Logger
}

func (a auditLog) Record(ctx context.Context, entry core.AuditEntry) {
	attrs := []any{
		"operation", entry.Operation,
		"entity", entry.Entity,
		"entity_id", entry.EntityID,
		"actor", entry.Actor,
		"status", entry.Status,
		"duration_ms", entry.Duration.Milliseconds(),
	}
	if entry.Error != "" {
		attrs = append(attrs, "error", entry.Error)
	}
	a.logger.InfoContext(ctx, "audit", attrs...)
}

func dumpMetrics(registry *prometheus.Registry, w io.Writer) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := fmt.Fprintf(w, "metric %s series=%d\n", mf.GetName(), len(mf.GetMetric())); err != nil {
			return err
		}
	}
	return nil
}
