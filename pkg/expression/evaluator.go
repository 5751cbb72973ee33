// Package expression provides sandboxed evaluation of workflow expressions,
// {{...}} interpolation and data transform snippets.
//
// The grammar is expr-lang's: arithmetic, comparisons, string and collection
// operations, regex matching and a small set of helper functions. There is no
// filesystem, network, process or environment access and no imports; every
// call is bounded by a wall-clock budget enforced inside the VM.
package expression

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/relayflow/relay/pkg/models"
)

// DefaultBudget bounds a single evaluation when no budget is configured.
const DefaultBudget = 250 * time.Millisecond

// Evaluator compiles and runs expressions against a Scope. Compiled programs
// are cached and reused across goroutines.
type Evaluator struct {
	budget time.Duration

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an evaluator whose calls are bounded by budget.
// A non-positive budget falls back to DefaultBudget.
func NewEvaluator(budget time.Duration) *Evaluator {
	if budget <= 0 {
		budget = DefaultBudget
	}

	return &Evaluator{
		budget: budget,
		cache:  make(map[string]*vm.Program),
	}
}

// Evaluate runs a single expression against the scope and returns its value.
// Exceeding the budget returns an EvaluationError rather than hanging.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, scope *Scope) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, models.NewEvaluationError(expression, fmt.Errorf("empty expression"))
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	env := scope.env()
	for name, fn := range helperFuncs() {
		env[name] = fn
	}
	env["ctx"] = callCtx

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, models.NewEvaluationError(expression, err)
	}

	return out, nil
}

// EvaluateBool evaluates an expression and coerces the result to a boolean
// using the engine's truthiness rules.
func (e *Evaluator) EvaluateBool(ctx context.Context, expression string, scope *Scope) (bool, error) {
	out, err := e.Evaluate(ctx, expression, scope)
	if err != nil {
		return false, err
	}

	return Truthy(out), nil
}

// Interpolate resolves {{...}} tokens in the input against the scope. When
// the whole input is a single token the expression's typed value is returned;
// otherwise the tokens are rendered into the surrounding string.
func (e *Evaluator) Interpolate(ctx context.Context, input string, scope *Scope) (any, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])

		return e.Evaluate(ctx, inner, scope)
	}

	var sb strings.Builder

	rest := input
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			sb.WriteString(rest)

			break
		}

		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			sb.WriteString(rest)

			break
		}

		sb.WriteString(rest[:start])

		inner := strings.TrimSpace(rest[start+2 : start+end])

		value, err := e.Evaluate(ctx, inner, scope)
		if err != nil {
			return nil, err
		}

		sb.WriteString(stringify(value))
		rest = rest[start+end+2:]
	}

	return sb.String(), nil
}

// InterpolateString is Interpolate with the result rendered as a string.
func (e *Evaluator) InterpolateString(ctx context.Context, input string, scope *Scope) (string, error) {
	value, err := e.Interpolate(ctx, input, scope)
	if err != nil {
		return "", err
	}

	return stringify(value), nil
}

// InterpolateConfig resolves {{...}} tokens in every string value of a
// configuration map, recursing into nested maps and slices.
func (e *Evaluator) InterpolateConfig(ctx context.Context, config map[string]any, scope *Scope) (map[string]any, error) {
	resolved := make(map[string]any, len(config))

	for key, value := range config {
		out, err := e.interpolateValue(ctx, value, scope)
		if err != nil {
			return nil, err
		}

		resolved[key] = out
	}

	return resolved, nil
}

func (e *Evaluator) interpolateValue(ctx context.Context, value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return e.Interpolate(ctx, v, scope)
	case map[string]any:
		return e.InterpolateConfig(ctx, v, scope)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := e.interpolateValue(ctx, item, scope)
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// Transform runs a transform snippet that computes an output from an input
// and the read-only variables view. The input is bound as `input`.
func (e *Evaluator) Transform(ctx context.Context, snippet string, input any, scope *Scope) (any, error) {
	prg, err := e.getOrCompile(snippet)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	env := scope.env()
	for name, fn := range helperFuncs() {
		env[name] = fn
	}
	env["input"] = input
	env["ctx"] = callCtx

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, models.NewEvaluationError(snippet, err)
	}

	return out, nil
}

func (e *Evaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.WithContext("ctx"),
	)
	if err != nil {
		return nil, models.NewEvaluationError(expression, err)
	}

	e.cache[expression] = prg

	return prg, nil
}

// helperFuncs is the safe helper set exposed to every expression.
func helperFuncs() map[string]any {
	return map[string]any{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"uuid": func() string {
			return uuid.New().String()
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			return rand.IntN(max)
		},
		"jsonParse": func(s string) (any, error) {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("jsonParse: %w", err)
			}

			return out, nil
		},
		"jsonString": func(v any) (string, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("jsonString: %w", err)
			}

			return string(data), nil
		},
		"duration": func(s string) (float64, error) {
			d, err := time.ParseDuration(s)
			if err != nil {
				return 0, fmt.Errorf("duration: %w", err)
			}

			return d.Seconds(), nil
		},
	}
}

// Truthy converts an expression result to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		return true
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
