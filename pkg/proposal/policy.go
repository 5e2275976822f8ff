package proposal

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Policy is a compiled proposal-admission expression. Operators configure
// it as a CEL string, e.g.
//
//	symbol in ["SPY", "QQQ"] && quantity <= 10
//
// The expression sees the proposal's routing fields only, never indicator
// values, so secrets can never leak into policy evaluation.
type Policy struct {
	source  string
	program cel.Program
}

// CompilePolicy compiles an admission expression. The expression must
// evaluate to a boolean.
func CompilePolicy(expr string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("symbol", cel.StringType),
		cel.Variable("side", cel.StringType),
		cel.Variable("asset_type", cel.StringType),
		cel.Variable("strategy", cel.StringType),
		cel.Variable("quantity", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy compile: %w", issues.Err())
	}
	if ast.OutputType().String() != cel.BoolType.String() {
		return nil, fmt.Errorf("policy must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy program: %w", err)
	}
	return &Policy{source: expr, program: program}, nil
}

// Allow evaluates the policy against a proposal.
func (p *Policy) Allow(prop *Proposal) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"symbol":     prop.Symbol,
		"side":       string(prop.Side),
		"asset_type": string(prop.AssetType),
		"strategy":   prop.StrategyName,
		"quantity":   prop.Quantity,
	})
	if err != nil {
		return false, fmt.Errorf("policy eval %q: %w", p.source, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy %q returned non-bool %T", p.source, out.Value())
	}
	return allowed, nil
}
