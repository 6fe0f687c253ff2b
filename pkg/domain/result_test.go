package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type noView struct{ TransactionView }

func warnOnObservation(_ context.Context, _ RuleView, changes []Change) (Result, error) {
	var res Result
	for _, c := range changes {
		if c.Entity == EntityObservation {
			res.Violations = append(res.Violations, Violation{Severity: SeverityWarn, Message: "observation touched", Entity: c.Entity})
		}
	}
	return res, nil
}

func TestRulesEngineAttributesAndMergesViolations(t *testing.T) {
	engine := NewRulesEngine(
		RuleFunc("observation_watch", warnOnObservation),
		nil,
		RuleFunc("plot_size", func(context.Context, RuleView, []Change) (Result, error) {
			return Result{Violations: []Violation{{Rule: "plot_size_explicit", Severity: SeverityBlock, Message: "plot too small"}}}, nil
		}),
	)
	if got := len(engine.Rules()); got != 2 {
		t.Fatalf("expected nil rule to be skipped, got %d rules", got)
	}
	changes := []Change{
		{Entity: EntityObservation, Action: ActionUpdate},
		{Entity: EntityMonitoringPlot, Action: ActionCreate},
	}
	res, err := engine.Evaluate(context.Background(), noView{}, changes)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected two violations, got %+v", res.Violations)
	}
	if res.Violations[0].Rule != "observation_watch" || res.Violations[1].Rule != "plot_size_explicit" {
		t.Fatalf("unexpected attribution: %+v", res.Violations)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	msg := RuleViolationError{Result: res}.Error()
	if !strings.Contains(msg, "plot_size_explicit: plot too small") || strings.Contains(msg, "observation touched") {
		t.Fatalf("error should list blocking violations only: %q", msg)
	}
}

func TestRulesEngineStopsOnRuleError(t *testing.T) {
	boom := errors.New("view unavailable")
	var laterRan bool
	engine := NewRulesEngine(
		RuleFunc("broken", func(context.Context, RuleView, []Change) (Result, error) { return Result{}, boom }),
		RuleFunc("later", func(context.Context, RuleView, []Change) (Result, error) {
			laterRan = true
			return Result{}, nil
		}),
	)
	_, err := engine.Evaluate(context.Background(), noView{}, nil)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "rule broken") {
		t.Fatalf("expected wrapped rule error, got %v", err)
	}
	if laterRan {
		t.Fatalf("rules after a failing rule must not run")
	}
}

func TestResultMergeAndBlockedError(t *testing.T) {
	var res Result
	res.Merge(Result{})
	if res.Violations != nil {
		t.Fatalf("merging an empty result must not allocate")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "log", Severity: SeverityLog}}})
	if res.HasBlocking() {
		t.Fatalf("log violations do not block")
	}
	if got := (RuleViolationError{Result: res}).Error(); got != "transaction blocked by rules" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(RuleViolationError{Result: res}, ErrInvalidState) {
		t.Fatalf("blocked transactions should match ErrInvalidState")
	}
}
