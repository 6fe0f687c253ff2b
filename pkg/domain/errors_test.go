package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKindAndReason(t *testing.T) {
	err := InvalidState(ReasonPlotAlreadyClaimed, EntityObservationPlot, "plot-1", "claimed by %s", "alice")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected kind match")
	}
	if !errors.Is(err, ErrPlotAlreadyClaimed) {
		t.Fatalf("expected reason match")
	}
	if errors.Is(err, ErrPlotAlreadyCompleted) {
		t.Fatalf("unexpected match on a different reason")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected match on a different kind")
	}
	wrapped := fmt.Errorf("claim: %w", err)
	if !errors.Is(wrapped, ErrPlotAlreadyClaimed) {
		t.Fatalf("expected match through wrapping")
	}
	if KindOf(wrapped) != KindInvalidState || ReasonOf(wrapped) != ReasonPlotAlreadyClaimed {
		t.Fatalf("unexpected kind/reason: %s/%s", KindOf(wrapped), ReasonOf(wrapped))
	}
}

func TestErrorMessages(t *testing.T) {
	err := NotFound(EntityObservation, "obs-1")
	if got := err.Error(); got != `not_found observation "obs-1": not found` {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, &Error{Kind: KindNotFound, Entity: EntityObservation}) {
		t.Fatalf("expected entity-scoped match")
	}
	if errors.Is(err, &Error{Kind: KindNotFound, Entity: EntityPlantingSite}) {
		t.Fatalf("unexpected match on a different entity")
	}
	bare := &Error{Kind: KindAccessDenied}
	if bare.Error() != "access_denied: access_denied" {
		t.Fatalf("unexpected bare message %q", bare.Error())
	}
	arg := InvalidArgument(ReasonSiteMismatch, "plot %s is on another site", "p")
	if !errors.Is(arg, ErrSiteMismatch) || !errors.Is(arg, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument match")
	}
	if KindOf(errors.New("plain")) != "" || ReasonOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind for foreign errors")
	}
}

func TestRuleViolationErrorIsInvalidState(t *testing.T) {
	err := error(RuleViolationError{Result: Result{Violations: []Violation{{Rule: "r", Severity: SeverityBlock, Message: "nope"}}}})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected rule violation to match invalid state")
	}
	if errors.Is(err, ErrPlotAlreadyClaimed) {
		t.Fatalf("rule violation must not match a precise reason")
	}
	if KindOf(err) != KindInvalidState {
		t.Fatalf("expected invalid state kind, got %q", KindOf(err))
	}
	if err.Error() != "transaction blocked by rules: r: nope" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if (RuleViolationError{}).Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected empty message")
	}
}
