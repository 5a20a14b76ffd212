package domain

import (
	"time"
)

// RuleAction is what an operator wants to happen when a rule matches.
type RuleAction string

const (
	ActionAllow      RuleAction = "allow"
	ActionBlock      RuleAction = "block"
	ActionReview     RuleAction = "review"
	ActionAlert      RuleAction = "alert"
	ActionRequire3DS RuleAction = "require_3ds"
)

// Operator compares a resolved field against a rule literal.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equals"
	OpLessThanOrEqual    Operator = "less_than_or_equals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
)

// LogicalOperator joins a condition with its sub-conditions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// FraudRule is an operator-authored override evaluated before the
// built-in engine. Lower Priority values are evaluated first.
type FraudRule struct {
	ID             string     `json:"id" yaml:"id"`
	OrganizationID string     `json:"organizationId" yaml:"organizationId"`
	Name           string     `json:"name" yaml:"name"`
	Description    string     `json:"description,omitempty" yaml:"description"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	Priority       int        `json:"priority" yaml:"priority"`
	Action         RuleAction `json:"action" yaml:"action"`
	Threshold      *float64   `json:"threshold,omitempty" yaml:"threshold"`
	Condition      Condition  `json:"condition" yaml:"condition"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// Condition is the stored form of a rule condition tree.
//
// A node with Expression set is a CEL expression node. Otherwise it compares
// Field with Value using Operator, and when Conditions is non-empty the
// result is combined with every child using LogicalOperator (AND by default).
type Condition struct {
	Field           string          `json:"field,omitempty" yaml:"field"`
	Operator        Operator        `json:"operator,omitempty" yaml:"operator"`
	Value           any             `json:"value,omitempty" yaml:"value"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator"`
	Conditions      []Condition     `json:"conditions,omitempty" yaml:"conditions"`
	Expression      string          `json:"expression,omitempty" yaml:"expression"`
}
