package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind string

const (
	// KindNotFound covers missing entities and entities the caller may not read.
	KindNotFound ErrorKind = "not_found"
	// KindAccessDenied covers readable entities whose mutation is not permitted.
	KindAccessDenied ErrorKind = "access_denied"
	// KindInvalidState covers illegal lifecycle transitions and workflow races.
	KindInvalidState ErrorKind = "invalid_state"
	// KindInvalidArgument covers malformed or mismatched requests.
	KindInvalidArgument ErrorKind = "invalid_argument"
)

// Reason narrows an error kind to a precise condition callers can present.
type Reason string

const (
	ReasonPlotAlreadyClaimed      Reason = "plot_already_claimed"
	ReasonPlotAlreadyCompleted    Reason = "plot_already_completed"
	ReasonPlotNotClaimed          Reason = "plot_not_claimed"
	ReasonPlotNotInObservation    Reason = "plot_not_in_observation"
	ReasonPlotNotCompleted        Reason = "plot_not_completed"
	ReasonObservationAlreadyEnded Reason = "observation_already_ended"
	ReasonObservationHasData      Reason = "observation_has_data"
	ReasonNothingObserved         Reason = "nothing_observed"
	ReasonInvalidTransition       Reason = "invalid_transition"
	ReasonDuplicateAssignment     Reason = "duplicate_assignment"
	ReasonSiteMismatch            Reason = "site_mismatch"
	ReasonAdHocMismatch           Reason = "ad_hoc_mismatch"
	ReasonInvalidDensity          Reason = "invalid_density"
	ReasonPlotNotPermanent        Reason = "plot_not_permanent"
	ReasonOrganizationMismatch    Reason = "organization_mismatch"
	ReasonMissingSubzone          Reason = "missing_subzone"
)

// Error is the typed failure returned by the engine. errors.Is matches on Kind
// and, when the target carries one, on Reason and Entity.
type Error struct {
	Kind    ErrorKind
	Reason  Reason
	Entity  EntityType
	ID      string
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		switch {
		case e.Reason != "":
			msg = string(e.Reason)
		default:
			msg = string(e.Kind)
		}
	}
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s %s %q: %s", e.Kind, e.Entity, e.ID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Is implements errors.Is matching against sentinel errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	if t.Entity != "" && t.Entity != e.Entity {
		return false
	}
	return true
}

// Sentinel errors for errors.Is checks.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAccessDenied    = &Error{Kind: KindAccessDenied}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}

	ErrPlotAlreadyClaimed      = &Error{Kind: KindInvalidState, Reason: ReasonPlotAlreadyClaimed}
	ErrPlotAlreadyCompleted    = &Error{Kind: KindInvalidState, Reason: ReasonPlotAlreadyCompleted}
	ErrPlotNotClaimed          = &Error{Kind: KindInvalidState, Reason: ReasonPlotNotClaimed}
	ErrPlotNotInObservation    = &Error{Kind: KindInvalidState, Reason: ReasonPlotNotInObservation}
	ErrPlotNotCompleted        = &Error{Kind: KindInvalidState, Reason: ReasonPlotNotCompleted}
	ErrObservationAlreadyEnded = &Error{Kind: KindInvalidState, Reason: ReasonObservationAlreadyEnded}
	ErrObservationHasData      = &Error{Kind: KindInvalidState, Reason: ReasonObservationHasData}
	ErrNothingObserved         = &Error{Kind: KindInvalidState, Reason: ReasonNothingObserved}
	ErrInvalidTransition       = &Error{Kind: KindInvalidState, Reason: ReasonInvalidTransition}

	ErrDuplicateAssignment  = &Error{Kind: KindInvalidArgument, Reason: ReasonDuplicateAssignment}
	ErrSiteMismatch         = &Error{Kind: KindInvalidArgument, Reason: ReasonSiteMismatch}
	ErrAdHocMismatch        = &Error{Kind: KindInvalidArgument, Reason: ReasonAdHocMismatch}
	ErrInvalidDensity       = &Error{Kind: KindInvalidArgument, Reason: ReasonInvalidDensity}
	ErrPlotNotPermanent     = &Error{Kind: KindInvalidArgument, Reason: ReasonPlotNotPermanent}
	ErrOrganizationMismatch = &Error{Kind: KindInvalidArgument, Reason: ReasonOrganizationMismatch}
	ErrMissingSubzone       = &Error{Kind: KindInvalidArgument, Reason: ReasonMissingSubzone}
)

// NotFound reports a missing entity.
func NotFound(entity EntityType, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: "not found"}
}

// AccessDenied reports a forbidden mutation on a readable entity.
func AccessDenied(entity EntityType, id string) error {
	return &Error{Kind: KindAccessDenied, Entity: entity, ID: id, Message: "access denied"}
}

// InvalidState builds an invalid-state error with a precise reason.
func InvalidState(reason Reason, entity EntityType, id string, format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Reason: reason, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds an invalid-argument error.
func InvalidArgument(reason Reason, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind carried by err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.As(err, &RuleViolationError{}) {
		return KindInvalidState
	}
	return ""
}

// ReasonOf returns the reason carried by err, or "" when none is present.
func ReasonOf(err error) Reason {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}
