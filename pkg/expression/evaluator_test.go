package expression

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayflow/relay/pkg/models"
)

func testScope() *Scope {
	return &Scope{
		Variables: map[string]any{
			"threshold": 10,
			"name":      "relay",
		},
		Trigger: map[string]any{
			"amount": 42.0,
			"user":   map[string]any{"id": "u-1", "admin": true},
		},
		Nodes: map[string]any{
			"fetch": map[string]any{"items": []any{1, 2, 3}},
		},
		Execution: map[string]any{"id": "exec-1"},
	}
}

func TestEvaluate(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	tests := []struct {
		name       string
		expression string
		expected   any
	}{
		{name: "arithmetic", expression: "1 + 2 * 3", expected: 7},
		{name: "variable access", expression: "variables.threshold * 2", expected: 20},
		{name: "trigger access", expression: "trigger.amount > 40", expected: true},
		{name: "nested trigger field", expression: "trigger.user.id", expected: "u-1"},
		{name: "node output access", expression: "len(nodes.fetch.items)", expected: 3},
		{name: "string concat", expression: `variables.name + "-engine"`, expected: "relay-engine"},
		{name: "ternary", expression: `trigger.amount > 100 ? "big" : "small"`, expected: "small"},
		{name: "regex match", expression: `"abc123" matches "^[a-z]+[0-9]+$"`, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := evaluator.Evaluate(ctx, tt.expression, testScope())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	t.Run("empty expression", func(t *testing.T) {
		_, err := evaluator.Evaluate(ctx, "  ", testScope())
		require.Error(t, err)

		var evalErr *models.EvaluationError

		require.ErrorAs(t, err, &evalErr)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := evaluator.Evaluate(ctx, "1 +* 2", testScope())
		require.Error(t, err)

		var evalErr *models.EvaluationError

		require.ErrorAs(t, err, &evalErr)
	})

	t.Run("undefined variables resolve to nil", func(t *testing.T) {
		out, err := evaluator.Evaluate(ctx, "missing == nil", testScope())
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestEvaluateBudget(t *testing.T) {
	evaluator := NewEvaluator(50 * time.Millisecond)
	ctx := context.Background()

	scope := &Scope{Variables: map[string]any{}}

	// A pathological expression that loops far longer than the budget.
	_, err := evaluator.Evaluate(ctx,
		"len(filter(1..5000000, string(#) != ''))", scope)
	require.Error(t, err)

	var evalErr *models.EvaluationError

	require.ErrorAs(t, err, &evalErr)
}

func TestEvaluateSandbox(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	// No environment or process escape hatches exist in the grammar.
	for _, expression := range []string{
		`import "os"`,
		`os.Getenv("HOME")`,
	} {
		out, err := evaluator.Evaluate(ctx, expression, testScope())
		if err == nil {
			// Identifier resolution falls back to nil for unknown names.
			assert.Nil(t, out)
		}
	}
}

func TestEvaluateBool(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	tests := []struct {
		expression string
		expected   bool
	}{
		{"true", true},
		{"1 > 2", false},
		{`"nonempty"`, true},
		{`""`, false},
		{"0", false},
		{"42", true},
		{"[1]", true},
		{"[]", false},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			out, err := evaluator.EvaluateBool(ctx, tt.expression, testScope())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestInterpolate(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	t.Run("plain string passes through", func(t *testing.T) {
		out, err := evaluator.Interpolate(ctx, "no tokens here", testScope())
		require.NoError(t, err)
		assert.Equal(t, "no tokens here", out)
	})

	t.Run("single token keeps type", func(t *testing.T) {
		out, err := evaluator.Interpolate(ctx, "{{ variables.threshold }}", testScope())
		require.NoError(t, err)
		assert.Equal(t, 10, out)
	})

	t.Run("embedded tokens render to string", func(t *testing.T) {
		out, err := evaluator.Interpolate(ctx, "hello {{ variables.name }}, amount={{ trigger.amount }}", testScope())
		require.NoError(t, err)
		assert.Equal(t, "hello relay, amount=42", out)
	})

	t.Run("map value renders as json", func(t *testing.T) {
		out, err := evaluator.InterpolateString(ctx, "user: {{ trigger.user }}", testScope())
		require.NoError(t, err)
		assert.Contains(t, out, `"id":"u-1"`)
	})

	t.Run("evaluation error propagates", func(t *testing.T) {
		_, err := evaluator.Interpolate(ctx, "{{ 1 +* }}", testScope())
		require.Error(t, err)
	})
}

func TestInterpolateBareVariables(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	t.Run("bare name resolves", func(t *testing.T) {
		scope := &Scope{Variables: map[string]any{"username": "Ada"}}

		out, err := evaluator.InterpolateString(ctx, "Hi {{username}}", scope)
		require.NoError(t, err)
		assert.Equal(t, "Hi Ada", out)
	})

	t.Run("namespaced form still works", func(t *testing.T) {
		scope := &Scope{Variables: map[string]any{"username": "Ada"}}

		out, err := evaluator.InterpolateString(ctx, "Hi {{ variables.username }}", scope)
		require.NoError(t, err)
		assert.Equal(t, "Hi Ada", out)
	})

	t.Run("reserved names shadow variables", func(t *testing.T) {
		scope := &Scope{
			Variables: map[string]any{"trigger": "shadowed"},
			Trigger:   map[string]any{"amount": 7},
		}

		out, err := evaluator.Evaluate(ctx, "trigger.amount", scope)
		require.NoError(t, err)
		assert.Equal(t, 7, out)
	})
}

func TestInterpolateConfig(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	config := map[string]any{
		"url":   "https://api.example.com/{{ trigger.user.id }}",
		"count": 3,
		"nested": map[string]any{
			"threshold": "{{ variables.threshold }}",
		},
		"list": []any{"{{ variables.name }}", "static"},
	}

	resolved, err := evaluator.InterpolateConfig(ctx, config, testScope())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/u-1", resolved["url"])
	assert.Equal(t, 3, resolved["count"])
	assert.Equal(t, 10, resolved["nested"].(map[string]any)["threshold"])
	assert.Equal(t, []any{"relay", "static"}, resolved["list"])
}

func TestTransform(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	t.Run("shapes output from input", func(t *testing.T) {
		out, err := evaluator.Transform(ctx,
			`{"total": input.price * input.qty, "label": variables.name}`,
			map[string]any{"price": 5.0, "qty": 3},
			testScope())
		require.NoError(t, err)

		result := out.(map[string]any)
		assert.Equal(t, 15.0, result["total"])
		assert.Equal(t, "relay", result["label"])
	})

	t.Run("collection pipeline", func(t *testing.T) {
		out, err := evaluator.Transform(ctx,
			"map(input, # * 2)",
			[]any{1, 2, 3},
			testScope())
		require.NoError(t, err)
		assert.Equal(t, []any{2, 4, 6}, out)
	})
}

func TestHelperFunctions(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	t.Run("uuid", func(t *testing.T) {
		out, err := evaluator.Evaluate(ctx, "len(uuid())", testScope())
		require.NoError(t, err)
		assert.Equal(t, 36, out)
	})

	t.Run("jsonParse roundtrip", func(t *testing.T) {
		out, err := evaluator.Evaluate(ctx, `jsonParse("{\"a\": 1}").a`, testScope())
		require.NoError(t, err)
		assert.Equal(t, 1.0, out)
	})

	t.Run("duration", func(t *testing.T) {
		out, err := evaluator.Evaluate(ctx, `duration("90s")`, testScope())
		require.NoError(t, err)
		assert.Equal(t, 90.0, out)
	})

	t.Run("rand covers the full range", func(t *testing.T) {
		sawLarge := false

		for range 200 {
			out, err := evaluator.Evaluate(ctx, "rand(1000)", testScope())
			require.NoError(t, err)

			n := out.(int)
			require.GreaterOrEqual(t, n, 0)
			require.Less(t, n, 1000)

			if n > 255 {
				sawLarge = true
			}
		}

		assert.True(t, sawLarge, "200 draws of rand(1000) never exceeded 255")
	})
}

func TestScopeLoopBindings(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	ec := models.NewExecutionContext("exec-1", "wf-1", 1, map[string]any{}, nil)
	ec.PushLoopScope(models.LoopScope{LoopID: "loop-1", Item: "apple", Index: 2})

	scope := NewScope(ec)

	out, err := evaluator.Evaluate(ctx, `item + "-" + string(index)`, scope)
	require.NoError(t, err)
	assert.Equal(t, "apple-2", out)
}

func TestProgramCacheConcurrency(t *testing.T) {
	evaluator := NewEvaluator(0)
	ctx := context.Background()

	done := make(chan struct{})

	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()

			for range 50 {
				out, err := evaluator.Evaluate(ctx, "1 + 1", testScope())
				assert.NoError(t, err)
				assert.Equal(t, 2, out)
			}
		}()
	}

	for range 8 {
		<-done
	}
}
