package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// exprNode evaluates a CEL boolean expression over the field table.
// Fields are exposed as top-level scalars (amount, currency, hour) and as
// maps per group (ip, card, device, customer, velocity). Absent values are
// missing map keys.
type exprNode struct {
	source  string
	program cel.Program
}

var exprGroups = []string{"ip", "card", "device", "customer", "velocity"}

func newCELEnv() (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable("amount", cel.DynType),
		cel.Variable("currency", cel.DynType),
		cel.Variable("hour", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	}
	for _, g := range exprGroups {
		opts = append(opts, cel.Variable(g, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpression compiles source once per evaluator and reuses the program.
func (e *Evaluator) compileExpression(source string) (node, error) {
	e.mu.RLock()
	n, ok := e.programs[source]
	e.mu.RUnlock()
	if ok {
		return n, nil
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: expression %q: %v", domain.ErrInvalidRule, source, issues.Err())
	}
	if out := ast.OutputType(); out != cel.BoolType && out != cel.DynType {
		return nil, fmt.Errorf("%w: expression %q must return bool, got %s", domain.ErrInvalidRule, source, out)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: expression %q: %v", domain.ErrInvalidRule, source, err)
	}

	n = &exprNode{source: source, program: program}
	e.mu.Lock()
	e.programs[source] = n
	e.mu.Unlock()
	return n, nil
}

func (n *exprNode) eval(tc *domain.TransactionContext) (bool, error) {
	out, _, err := n.program.Eval(activation(tc))
	if err != nil {
		return false, fmt.Errorf("expression %q: %w", n.source, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %s, want bool", n.source, out.Type())
	}
	return bool(b), nil
}

// activation exposes the field table to CEL.
func activation(tc *domain.TransactionContext) map[string]any {
	vars := make(map[string]any, 3+len(exprGroups))
	for _, g := range exprGroups {
		vars[g] = map[string]any{}
	}
	// Scalars must always be bound; absent strings become "".
	vars["currency"] = ""

	for _, f := range fieldList {
		v, ok := f.Get(tc)
		if !ok {
			continue
		}
		group, key, nested := strings.Cut(f.Name, ".")
		if !nested {
			vars[f.Name] = v
			continue
		}
		vars[group].(map[string]any)[key] = v
	}
	return vars
}
