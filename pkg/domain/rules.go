package domain

import (
	"context"
	"fmt"
)

// RuleView is the read-only state a rule sees: the transaction's working copy
// with its own mutations already applied.
type RuleView = TransactionView

// Rule inspects the changes of one transaction before it commits. A blocking
// violation aborts the commit; warnings are reported with the result.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RuleFunc adapts a function into a named Rule.
func RuleFunc(name string, fn func(ctx context.Context, view RuleView, changes []Change) (Result, error)) Rule {
	return funcRule{name: name, fn: fn}
}

type funcRule struct {
	name string
	fn   func(context.Context, RuleView, []Change) (Result, error)
}

func (r funcRule) Name() string { return r.name }

func (r funcRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return r.fn(ctx, view, changes)
}

// RulesEngine runs every registered rule against a transaction, in
// registration order. It is not safe to Register while transactions run.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine returns an engine preloaded with rules.
func NewRulesEngine(rules ...Rule) *RulesEngine {
	e := &RulesEngine{}
	for _, rule := range rules {
		e.Register(rule)
	}
	return e
}

// Register appends rule; nil is ignored.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules returns a copy of the registered rules.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs all rules and merges their violations. Violations that leave
// Rule empty are attributed to the rule that produced them. The first rule
// error stops evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for i := range res.Violations {
			if res.Violations[i].Rule == "" {
				res.Violations[i].Rule = rule.Name()
			}
		}
		combined.Merge(res)
	}
	return combined, nil
}
