// Package rules interprets operator-defined fraud rules against a
// transaction context.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/harrier/internal/domain"
)

// FactorType is the factor type emitted for a matched rule.
const FactorType = "custom_rule"

// Match is the first rule whose condition held.
type Match struct {
	Rule     *domain.FraudRule
	Decision domain.Decision
	Factor   domain.Factor
}

// RuleError records a rule that could not be evaluated.
type RuleError struct {
	RuleID string
	Err    error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

// Evaluation is the outcome of evaluating a rule list.
type Evaluation struct {
	// Match is nil when no rule matched.
	Match        *Match
	RulesChecked int
	Errors       []RuleError
}

// Evaluator evaluates custom rules. Results depend only on the rules and
// the context; compiled expressions are memoized internally.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]node
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator() (*Evaluator, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		env:      env,
		programs: make(map[string]node),
	}, nil
}

// Validate rejects rules that could never be evaluated cleanly. It is
// stricter than Evaluate: unknown operators and actions are errors here.
func (e *Evaluator) Validate(rule *domain.FraudRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidRule)
	}
	if _, ok := actionDecision(rule.Action); !ok {
		return fmt.Errorf("%w: unknown action %q", domain.ErrInvalidRule, rule.Action)
	}
	if err := checkOperators(rule.Condition); err != nil {
		return err
	}
	if _, err := e.compile(rule.Condition); err != nil {
		return err
	}
	return nil
}

func checkOperators(c domain.Condition) error {
	if c.Expression == "" && c.Field != "" && !knownOperators[c.Operator] {
		return fmt.Errorf("%w: unknown operator %q on %s", domain.ErrInvalidRule, c.Operator, c.Field)
	}
	for _, child := range c.Conditions {
		if err := checkOperators(child); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs the enabled rules in ascending priority and returns the
// first match. Rules that fail to compile or evaluate are logged and
// skipped.
func (e *Evaluator) Evaluate(ctx context.Context, rules []*domain.FraudRule, tc *domain.TransactionContext) Evaluation {
	ordered := make([]*domain.FraudRule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	var result Evaluation
	for _, rule := range ordered {
		if ctx.Err() != nil {
			break
		}
		result.RulesChecked++

		matched, err := e.evaluateRule(rule, tc)
		if err != nil {
			result.Errors = append(result.Errors, RuleError{RuleID: rule.ID, Err: err})
			slog.Warn("skipping custom rule",
				"org_id", rule.OrganizationID,
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		decision, ok := actionDecision(rule.Action)
		if !ok {
			slog.Warn("unknown rule action, defaulting to review",
				"org_id", rule.OrganizationID,
				"rule_id", rule.ID,
				"action", rule.Action,
			)
		}
		result.Match = &Match{
			Rule:     rule,
			Decision: decision,
			Factor:   ruleFactor(rule, decision),
		}
		return result
	}
	return result
}

func (e *Evaluator) evaluateRule(rule *domain.FraudRule, tc *domain.TransactionContext) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, fmt.Errorf("%w: panic: %v", domain.ErrInvalidRule, r)
		}
	}()

	n, err := e.compile(rule.Condition)
	if err != nil {
		return false, err
	}
	return n.eval(tc)
}

// actionDecision maps an action to a decision. Unknown actions map to
// REVIEW and report false.
func actionDecision(a domain.RuleAction) (domain.Decision, bool) {
	switch domain.RuleAction(strings.ToLower(string(a))) {
	case domain.ActionAllow:
		return domain.DecisionAllow, true
	case domain.ActionBlock:
		return domain.DecisionBlock, true
	case domain.ActionReview, domain.ActionAlert, domain.ActionRequire3DS:
		return domain.DecisionReview, true
	default:
		return domain.DecisionReview, false
	}
}

func ruleFactor(rule *domain.FraudRule, decision domain.Decision) domain.Factor {
	weight := rule.Priority
	severity := domain.SeverityMedium
	switch decision {
	case domain.DecisionBlock:
		weight += 30
		severity = domain.SeverityHigh
	case domain.DecisionReview:
		weight += 15
	case domain.DecisionAllow:
		weight -= 20
		severity = domain.SeverityLow
	}

	desc := "Custom rule: " + rule.Name
	if rule.Description != "" {
		desc += " (" + rule.Description + ")"
	}
	if rule.Threshold != nil {
		desc += fmt.Sprintf(" [threshold %g]", *rule.Threshold)
	}
	return domain.Factor{
		Type:        FactorType,
		Weight:      weight,
		Severity:    severity,
		Description: desc,
	}
}

// IsRuleError reports whether err came from a malformed rule.
func IsRuleError(err error) bool {
	return errors.Is(err, domain.ErrInvalidRule)
}
