package rules

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// node is a compiled condition. The set of implementations is closed:
// baseNode, allNode, anyNode and exprNode.
type node interface {
	eval(tc *domain.TransactionContext) (bool, error)
}

// baseNode compares one field with a literal.
type baseNode struct {
	field Field
	op    domain.Operator
	value any
	list  []any // in / not_in
}

// allNode is true when its base and every child are true.
type allNode struct {
	base     node // nil when the node only groups children
	children []node
}

// anyNode is true when its base or any child is true.
type anyNode struct {
	base     node
	children []node
}

var knownOperators = map[domain.Operator]bool{
	domain.OpEquals:             true,
	domain.OpNotEquals:          true,
	domain.OpGreaterThan:        true,
	domain.OpLessThan:           true,
	domain.OpGreaterThanOrEqual: true,
	domain.OpLessThanOrEqual:    true,
	domain.OpContains:           true,
	domain.OpNotContains:        true,
	domain.OpIn:                 true,
	domain.OpNotIn:              true,
}

// compile turns a stored condition into a node. It fails with
// domain.ErrInvalidRule on unknown fields, malformed list values, empty
// conditions and invalid expressions.
func (e *Evaluator) compile(c domain.Condition) (node, error) {
	if c.Expression != "" {
		return e.compileExpression(c.Expression)
	}

	var base node
	if c.Field != "" || c.Operator != "" {
		b, err := compileBase(c)
		if err != nil {
			return nil, err
		}
		base = b
	}

	if len(c.Conditions) == 0 {
		if base == nil {
			return nil, fmt.Errorf("%w: empty condition", domain.ErrInvalidRule)
		}
		return base, nil
	}

	children := make([]node, 0, len(c.Conditions))
	for i, child := range c.Conditions {
		n, err := e.compile(child)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		children = append(children, n)
	}

	switch strings.ToUpper(string(c.LogicalOperator)) {
	case string(domain.LogicalOr):
		return &anyNode{base: base, children: children}, nil
	case "", string(domain.LogicalAnd):
		return &allNode{base: base, children: children}, nil
	default:
		return nil, fmt.Errorf("%w: unknown logical operator %q", domain.ErrInvalidRule, c.LogicalOperator)
	}
}

func compileBase(c domain.Condition) (*baseNode, error) {
	f, ok := LookupField(c.Field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidRule, c.Field)
	}
	n := &baseNode{field: f, op: c.Operator, value: c.Value}

	switch c.Operator {
	case domain.OpIn, domain.OpNotIn:
		list, ok := toList(c.Value)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s requires an array value, got %T", domain.ErrInvalidRule, c.Operator, c.Field, c.Value)
		}
		n.list = list
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterThanOrEqual, domain.OpLessThanOrEqual:
		if _, ok := toNumber(c.Value); !ok {
			return nil, fmt.Errorf("%w: %s on %s requires a numeric value, got %v", domain.ErrInvalidRule, c.Operator, c.Field, c.Value)
		}
	}
	return n, nil
}

func (n *baseNode) eval(tc *domain.TransactionContext) (bool, error) {
	v, ok := n.field.Get(tc)
	if !ok || v == nil {
		return false, nil
	}

	switch n.op {
	case domain.OpEquals:
		return equal(v, n.value), nil
	case domain.OpNotEquals:
		return !equal(v, n.value), nil
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterThanOrEqual, domain.OpLessThanOrEqual:
		return compare(n.op, v, n.value), nil
	case domain.OpContains:
		return containsFold(v, n.value), nil
	case domain.OpNotContains:
		return !containsFold(v, n.value), nil
	case domain.OpIn:
		return member(v, n.list), nil
	case domain.OpNotIn:
		return !member(v, n.list), nil
	default:
		slog.Warn("unknown rule operator, treating as no match",
			"operator", n.op,
			"field", n.field.Name,
		)
		return false, nil
	}
}

func (n *allNode) eval(tc *domain.TransactionContext) (bool, error) {
	if n.base != nil {
		ok, err := n.base.eval(tc)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, c := range n.children {
		ok, err := c.eval(tc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (n *anyNode) eval(tc *domain.TransactionContext) (bool, error) {
	if n.base != nil {
		ok, err := n.base.eval(tc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	for _, c := range n.children {
		ok, err := c.eval(tc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// toNumber coerces numbers and numeric strings to float64.
func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// toList accepts any slice or array, as decoded from JSON or YAML.
func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func equal(a, b any) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	return toString(a) == toString(b)
}

func compare(op domain.Operator, a, b any) bool {
	x, ok := toNumber(a)
	if !ok {
		return false
	}
	y, ok := toNumber(b)
	if !ok {
		return false
	}
	switch op {
	case domain.OpGreaterThan:
		return x > y
	case domain.OpLessThan:
		return x < y
	case domain.OpGreaterThanOrEqual:
		return x >= y
	case domain.OpLessThanOrEqual:
		return x <= y
	}
	return false
}

func containsFold(a, b any) bool {
	return strings.Contains(strings.ToLower(toString(a)), strings.ToLower(toString(b)))
}

func member(v any, list []any) bool {
	for _, item := range list {
		if equal(v, item) {
			return true
		}
	}
	return false
}
