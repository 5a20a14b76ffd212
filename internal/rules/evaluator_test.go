package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	return e
}

func testContext() *domain.TransactionContext {
	return &domain.TransactionContext{
		OrganizationID:  "org-1",
		PaymentID:       "pay-1",
		Amount:          12000,
		Currency:        "USD",
		IPAddress:       "203.0.113.7",
		IPCountry:       "US",
		CardBrand:       "Visa",
		CardFunding:     domain.FundingPrepaid,
		CardCountry:     "FR",
		CardFingerprint: "fp-1",
		DeviceType:      "mobile",
		HourOfDay:       4,
		Timestamp:       time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC),
		Customer: &domain.CustomerContext{
			CustomerID:     "cus-1",
			AccountAgeDays: 2,
			TotalPurchases: 1,
			TrustScore:     35,
			Tier:           domain.TierSuspicious,
		},
	}
}

func rule(id string, priority int, action domain.RuleAction, cond domain.Condition) *domain.FraudRule {
	return &domain.FraudRule{
		ID:             id,
		OrganizationID: "org-1",
		Name:           id,
		Enabled:        true,
		Priority:       priority,
		Action:         action,
		Condition:      cond,
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	e := newTestEvaluator(t)
	cond := domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 10000.0}

	rules := []*domain.FraudRule{
		rule("late", 20, domain.ActionBlock, cond),
		rule("early", 5, domain.ActionAllow, cond),
		rule("middle", 10, domain.ActionReview, cond),
	}

	ev := e.Evaluate(context.Background(), rules, testContext())
	if ev.Match == nil {
		t.Fatal("expected a match")
	}
	if ev.Match.Rule.ID != "early" {
		t.Errorf("expected lowest priority rule to win, got %s", ev.Match.Rule.ID)
	}
	if ev.Match.Decision != domain.DecisionAllow {
		t.Errorf("expected ALLOW, got %s", ev.Match.Decision)
	}
	if ev.RulesChecked != 1 {
		t.Errorf("expected evaluation to stop at first match, checked %d", ev.RulesChecked)
	}
	if ev.Match.Factor.Type != FactorType || ev.Match.Factor.Weight != 5-20 {
		t.Errorf("unexpected factor: %+v", ev.Match.Factor)
	}
}

func TestEvaluateSkipsDisabled(t *testing.T) {
	e := newTestEvaluator(t)
	cond := domain.Condition{Field: "currency", Operator: domain.OpEquals, Value: "USD"}

	off := rule("off", 1, domain.ActionBlock, cond)
	off.Enabled = false

	ev := e.Evaluate(context.Background(), []*domain.FraudRule{off}, testContext())
	if ev.Match != nil {
		t.Errorf("disabled rule must not match")
	}
	if ev.RulesChecked != 0 {
		t.Errorf("expected 0 rules checked, got %d", ev.RulesChecked)
	}
}

func TestEvaluateRuleErrorIsolation(t *testing.T) {
	e := newTestEvaluator(t)

	rules := []*domain.FraudRule{
		rule("broken-field", 1, domain.ActionBlock, domain.Condition{Field: "nope", Operator: domain.OpEquals, Value: 1}),
		rule("broken-expr", 2, domain.ActionBlock, domain.Condition{Expression: "amount >>> 3"}),
		rule("good", 3, domain.ActionReview, domain.Condition{Field: "ip.country", Operator: domain.OpEquals, Value: "US"}),
	}

	ev := e.Evaluate(context.Background(), rules, testContext())
	if ev.Match == nil || ev.Match.Rule.ID != "good" {
		t.Fatalf("expected the valid rule to match, got %+v", ev.Match)
	}
	if len(ev.Errors) != 2 {
		t.Fatalf("expected 2 rule errors, got %d", len(ev.Errors))
	}
	for _, re := range ev.Errors {
		if !IsRuleError(re.Err) {
			t.Errorf("expected ErrInvalidRule for %s, got %v", re.RuleID, re.Err)
		}
	}
}

func TestEvaluateUnknownAction(t *testing.T) {
	e := newTestEvaluator(t)
	r := rule("odd", 1, "quarantine", domain.Condition{Field: "currency", Operator: domain.OpEquals, Value: "usd"})

	ev := e.Evaluate(context.Background(), []*domain.FraudRule{r}, testContext())
	if ev.Match == nil {
		t.Fatal("expected a match")
	}
	if ev.Match.Decision != domain.DecisionReview {
		t.Errorf("unknown action should map to REVIEW, got %s", ev.Match.Decision)
	}
}

func TestEvaluateActionCaseInsensitive(t *testing.T) {
	e := newTestEvaluator(t)
	r := rule("upper", 1, "BLOCK", domain.Condition{Field: "card.funding", Operator: domain.OpEquals, Value: "prepaid"})

	ev := e.Evaluate(context.Background(), []*domain.FraudRule{r}, testContext())
	if ev.Match == nil || ev.Match.Decision != domain.DecisionBlock {
		t.Fatalf("expected BLOCK, got %+v", ev.Match)
	}
	if ev.Match.Factor.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", ev.Match.Factor.Severity)
	}
}

func TestEvaluateUnknownOperatorNoMatch(t *testing.T) {
	e := newTestEvaluator(t)
	r := rule("weird-op", 1, domain.ActionBlock, domain.Condition{Field: "amount", Operator: "approximately", Value: 12000})

	ev := e.Evaluate(context.Background(), []*domain.FraudRule{r}, testContext())
	if ev.Match != nil {
		t.Errorf("unknown operator must not match")
	}
	if len(ev.Errors) != 0 {
		t.Errorf("unknown operator is not an evaluation error, got %v", ev.Errors)
	}
}

func TestEvaluateMissingValueNoMatch(t *testing.T) {
	e := newTestEvaluator(t)
	tc := testContext()
	tc.Customer = nil
	tc.CardCountry = ""

	cases := []domain.Condition{
		{Field: "customer.trust_score", Operator: domain.OpLessThan, Value: 100},
		{Field: "customer.blacklisted", Operator: domain.OpNotEquals, Value: true},
		{Field: "card.country", Operator: domain.OpNotEquals, Value: "US"},
		{Field: "velocity.unique_cards", Operator: domain.OpGreaterThanOrEqual, Value: 0},
	}
	for _, c := range cases {
		t.Run(c.Field, func(t *testing.T) {
			ev := e.Evaluate(context.Background(), []*domain.FraudRule{rule("r", 1, domain.ActionBlock, c)}, tc)
			if ev.Match != nil {
				t.Errorf("absent %s must not match", c.Field)
			}
		})
	}
}

func TestEvaluateOperators(t *testing.T) {
	e := newTestEvaluator(t)
	tc := testContext()

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"equals number", domain.Condition{Field: "amount", Operator: domain.OpEquals, Value: 12000}, true},
		{"equals numeric string", domain.Condition{Field: "amount", Operator: domain.OpEquals, Value: "12000"}, true},
		{"not equals", domain.Condition{Field: "ip.country", Operator: domain.OpNotEquals, Value: "FR"}, true},
		{"greater than", domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 12000}, false},
		{"greater or equal", domain.Condition{Field: "amount", Operator: domain.OpGreaterThanOrEqual, Value: 12000}, true},
		{"less than", domain.Condition{Field: "customer.trust_score", Operator: domain.OpLessThan, Value: 40}, true},
		{"less or equal", domain.Condition{Field: "hour", Operator: domain.OpLessThanOrEqual, Value: 3}, false},
		{"contains case-insensitive", domain.Condition{Field: "card.brand", Operator: domain.OpContains, Value: "VIS"}, true},
		{"not contains", domain.Condition{Field: "card.brand", Operator: domain.OpNotContains, Value: "amex"}, true},
		{"in", domain.Condition{Field: "card.country", Operator: domain.OpIn, Value: []any{"DE", "FR"}}, true},
		{"in typed slice", domain.Condition{Field: "ip.country", Operator: domain.OpIn, Value: []string{"CA", "MX"}}, false},
		{"not in", domain.Condition{Field: "ip.country", Operator: domain.OpNotIn, Value: []any{"CA", "MX"}}, true},
		{"bool equals", domain.Condition{Field: "customer.whitelisted", Operator: domain.OpEquals, Value: false}, true},
		{"tier", domain.Condition{Field: "customer.tier", Operator: domain.OpEquals, Value: "suspicious"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := e.Evaluate(context.Background(), []*domain.FraudRule{rule("r", 1, domain.ActionReview, tt.cond)}, tc)
			if len(ev.Errors) > 0 {
				t.Fatalf("unexpected errors: %v", ev.Errors)
			}
			if got := ev.Match != nil; got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateLogicalOperators(t *testing.T) {
	e := newTestEvaluator(t)
	tc := testContext()

	high := domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 10000}
	foreign := domain.Condition{Field: "card.country", Operator: domain.OpNotEquals, Value: "US"}
	daytime := domain.Condition{Field: "hour", Operator: domain.OpGreaterThan, Value: 8}

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"and all true", domain.Condition{Conditions: []domain.Condition{high, foreign}}, true},
		{"and one false", domain.Condition{LogicalOperator: domain.LogicalAnd, Conditions: []domain.Condition{high, daytime}}, false},
		{"or one true", domain.Condition{LogicalOperator: domain.LogicalOr, Conditions: []domain.Condition{daytime, foreign}}, true},
		{"or lowercase", domain.Condition{LogicalOperator: "or", Conditions: []domain.Condition{daytime, daytime}}, false},
		{"base with children", domain.Condition{
			Field: "ip.country", Operator: domain.OpEquals, Value: "US",
			LogicalOperator: domain.LogicalAnd,
			Conditions:      []domain.Condition{high},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := e.Evaluate(context.Background(), []*domain.FraudRule{rule("r", 1, domain.ActionReview, tt.cond)}, tc)
			if got := ev.Match != nil; got != tt.want {
				t.Errorf("match = %v, want %v (errors %v)", got, tt.want, ev.Errors)
			}
		})
	}
}

func TestEvaluateExpression(t *testing.T) {
	e := newTestEvaluator(t)
	tc := testContext()

	tests := []struct {
		expr string
		want bool
	}{
		{`amount > 10000 && card.funding == "prepaid"`, true},
		{`ip.country != card.country`, true},
		{`customer.trust_score >= 50`, false},
		{`hour >= 3 && hour < 6`, true},
		{`card.brand in ["Visa", "Mastercard"]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ev := e.Evaluate(context.Background(), []*domain.FraudRule{rule("r", 1, domain.ActionBlock, domain.Condition{Expression: tt.expr})}, tc)
			if len(ev.Errors) > 0 {
				t.Fatalf("unexpected errors: %v", ev.Errors)
			}
			if got := ev.Match != nil; got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateExpressionMissingKey(t *testing.T) {
	e := newTestEvaluator(t)
	tc := testContext()
	tc.Customer = nil

	ev := e.Evaluate(context.Background(), []*domain.FraudRule{
		rule("needs-customer", 1, domain.ActionBlock, domain.Condition{Expression: `customer.trust_score < 30`}),
	}, tc)
	if ev.Match != nil {
		t.Error("expression over an absent customer must not match")
	}
	if len(ev.Errors) != 1 {
		t.Errorf("expected the failing expression to be reported, got %v", ev.Errors)
	}
}

func TestEvaluateNonBoolExpression(t *testing.T) {
	e := newTestEvaluator(t)
	ev := e.Evaluate(context.Background(), []*domain.FraudRule{
		rule("number", 1, domain.ActionBlock, domain.Condition{Expression: `1 + 2`}),
	}, testContext())
	if ev.Match != nil || len(ev.Errors) != 1 {
		t.Errorf("expected a rule error for a non-bool expression, got match=%v errors=%v", ev.Match, ev.Errors)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := newTestEvaluator(t)
	rules := []*domain.FraudRule{
		rule("b", 10, domain.ActionReview, domain.Condition{Field: "currency", Operator: domain.OpEquals, Value: "USD"}),
		rule("a", 10, domain.ActionBlock, domain.Condition{Field: "currency", Operator: domain.OpEquals, Value: "USD"}),
	}
	tc := testContext()

	first := e.Evaluate(context.Background(), rules, tc)
	for i := 0; i < 20; i++ {
		ev := e.Evaluate(context.Background(), rules, tc)
		if ev.Match.Rule.ID != first.Match.Rule.ID {
			t.Fatalf("run %d matched %s, first run matched %s", i, ev.Match.Rule.ID, first.Match.Rule.ID)
		}
	}
	if first.Match.Rule.ID != "a" {
		t.Errorf("equal priorities should break ties by id, got %s", first.Match.Rule.ID)
	}
}

func TestValidate(t *testing.T) {
	e := newTestEvaluator(t)
	ok := domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 100}

	tests := []struct {
		name    string
		rule    *domain.FraudRule
		wantErr bool
	}{
		{"valid", rule("v", 1, domain.ActionBlock, ok), false},
		{"valid expression", rule("v", 1, domain.ActionReview, domain.Condition{Expression: `amount > 100`}), false},
		{"nil", nil, true},
		{"no name", &domain.FraudRule{Action: domain.ActionBlock, Condition: ok}, true},
		{"unknown action", rule("v", 1, "quarantine", ok), true},
		{"unknown operator", rule("v", 1, domain.ActionBlock, domain.Condition{Field: "amount", Operator: "like", Value: 1}), true},
		{"unknown field", rule("v", 1, domain.ActionBlock, domain.Condition{Field: "shoe_size", Operator: domain.OpEquals, Value: 1}), true},
		{"in without list", rule("v", 1, domain.ActionBlock, domain.Condition{Field: "currency", Operator: domain.OpIn, Value: "USD"}), true},
		{"numeric op on text", rule("v", 1, domain.ActionBlock, domain.Condition{Field: "amount", Operator: domain.OpLessThan, Value: "lots"}), true},
		{"empty", rule("v", 1, domain.ActionBlock, domain.Condition{}), true},
		{"bad logical", rule("v", 1, domain.ActionBlock, domain.Condition{LogicalOperator: "XOR", Conditions: []domain.Condition{ok}}), true},
		{"nested unknown operator", rule("v", 1, domain.ActionBlock, domain.Condition{Conditions: []domain.Condition{ok, {Field: "hour", Operator: "between", Value: 2}}}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.rule)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, domain.ErrInvalidRule) {
					t.Errorf("expected ErrInvalidRule, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRuleFactorDescription(t *testing.T) {
	threshold := 0.75
	r := rule("desc", 4, domain.ActionReview, domain.Condition{})
	r.Name = "Prepaid abroad"
	r.Description = "prepaid card from another country"
	r.Threshold = &threshold

	f := ruleFactor(r, domain.DecisionReview)
	want := "Custom rule: Prepaid abroad (prepaid card from another country) [threshold 0.75]"
	if f.Description != want {
		t.Errorf("description = %q, want %q", f.Description, want)
	}
	if f.Weight != 19 || f.Severity != domain.SeverityMedium {
		t.Errorf("unexpected factor: %+v", f)
	}
}

func TestFieldNames(t *testing.T) {
	names := FieldNames()
	if len(names) != len(fieldList) {
		t.Fatalf("expected %d fields, got %d", len(fieldList), len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("field names not sorted at %d: %s >= %s", i, names[i-1], names[i])
		}
	}
	if _, ok := LookupField("velocity.suspicion_score"); !ok {
		t.Error("expected velocity.suspicion_score to be registered")
	}
}
