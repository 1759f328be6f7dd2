package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates per-step CEL conditions. A condition sees the
// execution input as `input` and the payloads of earlier steps keyed by
// step id as `steps`; an empty condition always runs.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds the CEL environment for step conditions.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to build CEL environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// ShouldRun reports whether a step's condition evaluates true. Compile or
// evaluation failures are configuration defects, never silently skipped.
func (e *Evaluator) ShouldRun(condition string, input map[string]interface{}, steps map[string]interface{}) (bool, error) {
	if condition == "" {
		return true, nil
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("engine: invalid step condition %q: %w", condition, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("engine: failed to plan step condition: %w", err)
	}

	if input == nil {
		input = map[string]interface{}{}
	}
	if steps == nil {
		steps = map[string]interface{}{}
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"input": input,
		"steps": steps,
	})
	if err != nil {
		return false, fmt.Errorf("engine: step condition evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("engine: step condition %q did not evaluate to a boolean", condition)
	}
	return result, nil
}
