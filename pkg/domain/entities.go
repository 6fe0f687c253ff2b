// Package domain defines the persistent entities, value types, error taxonomy,
// and rule evaluation primitives used by restorationcore.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPlantingSite identifies a planting site record.
	EntityPlantingSite EntityType = "planting_site"
	// EntitySiteHistory identifies a planting site history epoch.
	EntitySiteHistory EntityType = "planting_site_history"
	// EntityPlantingZone identifies a planting zone record.
	EntityPlantingZone EntityType = "planting_zone"
	// EntityPlantingSubzone identifies a planting subzone record.
	EntityPlantingSubzone EntityType = "planting_subzone"
	// EntityMonitoringPlot identifies a monitoring plot record.
	EntityMonitoringPlot EntityType = "monitoring_plot"
	// EntityPlotHistory identifies an immutable monitoring plot history snapshot.
	EntityPlotHistory EntityType = "monitoring_plot_history"
	// EntitySpecies identifies a species catalog record.
	EntitySpecies EntityType = "species"
	// EntityObservation identifies an observation record.
	EntityObservation EntityType = "observation"
	// EntityObservationPlot identifies a plot assignment within an observation.
	EntityObservationPlot EntityType = "observation_plot"
	// EntityRecordedPlant identifies a raw plant record.
	EntityRecordedPlant EntityType = "recorded_plant"
	// EntitySpeciesTotals identifies an observed species totals row.
	EntitySpeciesTotals EntityType = "observed_species_totals"
	EntityPlotT0Density EntityType = "plot_t0_density"
	EntityZoneT0Density EntityType = "zone_t0_density"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change describes a mutation applied within a transaction. Before and After
// hold value copies of the affected record.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// Is reports blocked transactions as invalid state so callers can branch on
// the error taxonomy without knowing about the rules engine.
func (e RuleViolationError) Is(target error) bool {
	var de *Error
	if !errors.As(target, &de) {
		return false
	}
	return de.Kind == KindInvalidState && de.Reason == ""
}
