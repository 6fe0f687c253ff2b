// Package reports renders observation results and site summaries into
// downloadable artifacts and stores them in blob storage.
package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restorationcore/internal/core"
)

// Format names an artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts case-insensitive format names.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) contentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Kind selects what is exported.
type Kind string

const (
	// KindObservationResults exports the results tree of one observation.
	KindObservationResults Kind = "observation-results"
	// KindSiteSummary exports the latest-per-subzone summary of a site.
	KindSiteSummary Kind = "site-summary"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

func (s ExportStatus) terminal() bool {
	return s == ExportStatusSucceeded || s == ExportStatusFailed
}

// ExportArtifact describes one stored rendering.
type ExportArtifact struct {
	Key         string            `json:"key"`
	Format      Format            `json:"format"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	ETag        string            `json:"etag,omitempty"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ExportInput is an enqueue request. ObservationID is required for
// KindObservationResults; SiteID for KindSiteSummary, where a zero AsOf means now.
type ExportInput struct {
	Kind          Kind
	ObservationID string
	SiteID        string
	AsOf          time.Time
	Formats       []Format
	Actor         core.Actor
	Reason        string
}

// ExportRecord tracks an export request and its artifacts.
type ExportRecord struct {
	ID            string           `json:"id"`
	Kind          Kind             `json:"kind"`
	ObservationID string           `json:"observation_id,omitempty"`
	SiteID        string           `json:"site_id,omitempty"`
	AsOf          *time.Time       `json:"as_of,omitempty"`
	Formats       []Format         `json:"formats"`
	Status        ExportStatus     `json:"status"`
	Error         string           `json:"error,omitempty"`
	Artifacts     []ExportArtifact `json:"artifacts,omitempty"`
	RequestedBy   string           `json:"requested_by"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = make([]ExportArtifact, len(r.Artifacts))
		for i, a := range r.Artifacts {
			a.Metadata = cloneStrings(a.Metadata)
			dup.Artifacts[i] = a
		}
	}
	return dup
}

// ResultsSource is the slice of the field service the worker reads from.
// *core.Service satisfies it.
type ResultsSource interface {
	GetObservationResults(ctx context.Context, actor core.Actor, observationID string) (core.ObservationResults, error)
	GetSiteSummary(ctx context.Context, actor core.Actor, siteID string, asOf time.Time) (core.SiteSummary, error)
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
