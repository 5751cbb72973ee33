package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/relayflow/relay/pkg/eventbus"
	"github.com/relayflow/relay/pkg/events"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/mocks"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence/memory"
	"github.com/relayflow/relay/pkg/testutil"
	"github.com/relayflow/relay/pkg/workflow"
)

// scriptedGateway records invocations and fails a target a scripted number of
// times before succeeding.
type scriptedGateway struct {
	mu       sync.Mutex
	calls    []gateway.InvocationRequest
	failures map[string]int
	err      error
}

func (g *scriptedGateway) Invoke(_ context.Context, req gateway.InvocationRequest) (*gateway.InvocationResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, req)

	if g.failures[req.Target] > 0 {
		g.failures[req.Target]--

		return nil, errors.New("gateway unavailable")
	}

	if g.err != nil {
		return nil, g.err
	}

	return &gateway.InvocationResponse{Success: true, Payload: map[string]any{"ok": true}}, nil
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.calls)
}

func testConfig() Config {
	// Small backoff base keeps retry tests fast.
	return Config{WorkerID: "test-worker", RetryBackoffBase: 1.1}
}

func newTestEngine(t *testing.T, config Config, gw gateway.Gateway, bus eventbus.EventPublisher, definitions ...*models.WorkflowDefinition) (*Engine, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	for _, definition := range definitions {
		require.NoError(t, store.SaveWorkflow(context.Background(), definition))
	}

	loader, err := workflow.NewLoader()
	require.NoError(t, err)

	repository := workflow.NewRepository(store, loader)

	if gw == nil {
		gw = &scriptedGateway{}
	}

	return New(config, slog.Default(), repository, store, gw, bus, nil, nil), store
}

func linearDefinition() *models.WorkflowDefinition {
	return testutil.Definition("wf-linear",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("double", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "input.total * 2",
				"variable":   "doubled",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd, testutil.WithConfig(map[string]any{
				"output": map[string]any{"doubled": "{{ variables.doubled }}"},
			})),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "double", models.PortMain),
			testutil.Connect("double", "success", "finish", models.PortMain),
		},
	)
}

func TestExecuteLinearWorkflow(t *testing.T) {
	eng, store := newTestEngine(t, testConfig(), nil, nil, linearDefinition())

	result, err := eng.Execute(context.Background(), "wf-linear", map[string]any{"total": 21.0})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"doubled": 42.0}, result.Output)
	assert.Equal(t, []string{"start", "double", "finish"}, result.Path)
	assert.Equal(t, 42.0, result.Variables["doubled"])
	require.NotNil(t, result.FinishedAt)

	stored, err := store.ExecutionByID(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)

	states, err := store.NodeStates(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	eng, _ := newTestEngine(t, testConfig(), nil, bus, linearDefinition())

	_, err := eng.Execute(context.Background(), "wf-linear", map[string]any{"total": 1.0})
	require.NoError(t, err)

	var types []events.EventType
	for _, call := range bus.Calls {
		event, ok := call.Arguments.Get(2).(eventbus.Event)
		require.True(t, ok)
		types = append(types, event.GetType())
	}

	assert.Contains(t, types, events.ExecutionStartedEvent)
	assert.Contains(t, types, events.NodeStartedEvent)
	assert.Contains(t, types, events.NodeFinishedEvent)
	assert.Contains(t, types, events.ExecutionCompletedEvent)
	assert.Equal(t, events.ExecutionStartedEvent, types[0])
	assert.Equal(t, events.ExecutionCompletedEvent, types[len(types)-1])
}

func TestConditionRouting(t *testing.T) {
	definition := testutil.Definition("wf-branch",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("check", models.NodeKindConditionIf, testutil.WithConfig(map[string]any{
				"expression": "trigger.total > 100",
			})),
			testutil.Node("high", models.NodeKindFlowEnd, testutil.WithConfig(map[string]any{
				"output": map[string]any{"tier": "high"},
			})),
			testutil.Node("low", models.NodeKindFlowEnd, testutil.WithConfig(map[string]any{
				"output": map[string]any{"tier": "low"},
			})),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "check", models.PortMain),
			testutil.Connect("check", "true", "high", models.PortMain),
			testutil.Connect("check", "false", "low", models.PortMain),
		},
	)

	tests := []struct {
		name  string
		total float64
		tier  string
	}{
		{name: "above threshold", total: 150, tier: "high"},
		{name: "below threshold", total: 50, tier: "low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

			result, err := eng.Execute(context.Background(), "wf-branch", map[string]any{"total": tt.total})
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
			assert.Equal(t, map[string]any{"tier": tt.tier}, result.Output)
		})
	}
}

func TestConnectionGuardFiltersChain(t *testing.T) {
	definition := testutil.Definition("wf-guard",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.GuardedConnect("start", models.PortMain, "finish", models.PortMain, "input.total > 100"),
		},
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-guard", map[string]any{"total": 50.0})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, []string{"start"}, result.Path)
	assert.Empty(t, result.Output)

	result, err = eng.Execute(context.Background(), "wf-guard", map[string]any{"total": 150.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "finish"}, result.Path)
	assert.Equal(t, 150.0, result.Output["total"])
}

func actionDefinition(withErrorPort bool) *models.WorkflowDefinition {
	nodes := []*models.NodeSpec{
		testutil.Node("start", models.NodeKindTriggerWebhook),
		testutil.Node("call", models.NodeKindActionModule, testutil.WithConfig(map[string]any{
			"module": "crm",
			"action": "sync",
		})),
		testutil.Node("finish", models.NodeKindFlowEnd),
	}
	connections := []*models.Connection{
		testutil.Connect("start", models.PortMain, "call", models.PortMain),
		testutil.Connect("call", "success", "finish", models.PortMain),
	}

	if withErrorPort {
		nodes = append(nodes, testutil.Node("rescue", models.NodeKindFlowEnd))
		connections = append(connections, testutil.Connect("call", models.PortError, "rescue", models.PortMain))
	}

	return testutil.Definition("wf-action", nodes, connections,
		testutil.WithLimits(models.ExecutionLimits{MaxRetries: models.Retries(1)}),
	)
}

func TestActionRetryThenSuccess(t *testing.T) {
	gw := &scriptedGateway{failures: map[string]int{"module:crm": 1}}
	eng, _ := newTestEngine(t, testConfig(), gw, nil, actionDefinition(false))

	result, err := eng.Execute(context.Background(), "wf-action", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, 2, gw.callCount())
}

func TestActionFailureRoutesToErrorPort(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("crm down")}
	eng, _ := newTestEngine(t, testConfig(), gw, nil, actionDefinition(true))

	result, err := eng.Execute(context.Background(), "wf-action", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Contains(t, result.Output["error"], "crm down")
	assert.Equal(t, 2, gw.callCount())
}

func TestActionFailureWithoutErrorPortFailsExecution(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("crm down")}
	eng, _ := newTestEngine(t, testConfig(), gw, nil, actionDefinition(false))

	result, err := eng.Execute(context.Background(), "wf-action", map[string]any{})
	require.Error(t, err)

	var nodeErr *models.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "call", nodeErr.NodeID)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, "call", result.ErrorNodeID)
	assert.Contains(t, result.ErrorMessage, "crm down")
}

func forEachDefinition(limits models.ExecutionLimits) *models.WorkflowDefinition {
	return testutil.Definition("wf-each",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("each", models.NodeKindLoopForEach, testutil.WithConfig(map[string]any{
				"collection": "{{ trigger.items }}",
			})),
			testutil.Node("bump", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "int(variables.count) + 1",
				"variable":   "count",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "each", models.PortMain),
			testutil.Connect("each", "body", "bump", models.PortMain),
			testutil.Connect("each", "done", "finish", models.PortMain),
		},
		testutil.WithVariables(map[string]any{"count": 0}),
		testutil.WithLimits(limits),
	)
}

func TestForEachLoop(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), nil, nil, forEachDefinition(models.ExecutionLimits{}))

	result, err := eng.Execute(context.Background(), "wf-each", map[string]any{
		"items": []any{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"count": 3, "processed": 3}, result.Output)
	assert.Equal(t, 3, result.Variables["count"])
}

func TestForEachIterationCap(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), nil, nil, forEachDefinition(models.ExecutionLimits{MaxLoopIterations: 2}))

	result, err := eng.Execute(context.Background(), "wf-each", map[string]any{
		"items": []any{"a", "b", "c"},
	})
	require.ErrorIs(t, err, models.ErrLoopLimitExceeded)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
}

func TestOperationLimit(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), nil, nil, forEachDefinition(models.ExecutionLimits{MaxOperations: 5}))

	items := make([]any, 10)
	for i := range items {
		items[i] = i
	}

	result, err := eng.Execute(context.Background(), "wf-each", map[string]any{"items": items})
	require.ErrorIs(t, err, models.ErrOperationLimitExceeded)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
}

func TestNestedLoopDepthCap(t *testing.T) {
	definition := testutil.Definition("wf-nested",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("outer", models.NodeKindLoopForEach, testutil.WithConfig(map[string]any{
				"collection": "{{ trigger.items }}",
			})),
			testutil.Node("inner", models.NodeKindLoopForEach, testutil.WithConfig(map[string]any{
				"collection": "{{ trigger.items }}",
			})),
			testutil.Node("bump", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "1",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "outer", models.PortMain),
			testutil.Connect("outer", "body", "inner", models.PortMain),
			testutil.Connect("inner", "body", "bump", models.PortMain),
			testutil.Connect("outer", "done", "finish", models.PortMain),
		},
		testutil.WithLimits(models.ExecutionLimits{MaxLoopDepth: 1}),
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-nested", map[string]any{"items": []any{"a"}})
	require.ErrorIs(t, err, models.ErrLoopDepthExceeded)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
}

func TestWhileLoop(t *testing.T) {
	definition := testutil.Definition("wf-while",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("wait", models.NodeKindLoopWhile, testutil.WithConfig(map[string]any{
				"condition": "int(variables.n) < 3",
			})),
			testutil.Node("bump", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "int(variables.n) + 1",
				"variable":   "n",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "wait", models.PortMain),
			testutil.Connect("wait", "body", "bump", models.PortMain),
			testutil.Connect("wait", "done", "finish", models.PortMain),
		},
		testutil.WithVariables(map[string]any{"n": 0}),
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-while", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"iterations": 3}, result.Output)
	assert.Equal(t, 3, result.Variables["n"])
}

func TestWhileRunawayLoopFails(t *testing.T) {
	definition := testutil.Definition("wf-runaway",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("wait", models.NodeKindLoopWhile, testutil.WithConfig(map[string]any{
				"condition": "true",
			})),
			testutil.Node("noop", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "1",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "wait", models.PortMain),
			testutil.Connect("wait", "body", "noop", models.PortMain),
			testutil.Connect("wait", "done", "finish", models.PortMain),
		},
		testutil.WithLimits(models.ExecutionLimits{MaxLoopIterations: 5}),
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-runaway", map[string]any{})
	require.ErrorIs(t, err, models.ErrLoopLimitExceeded)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
}

func TestLoopBreak(t *testing.T) {
	definition := testutil.Definition("wf-break",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("each", models.NodeKindLoopForEach, testutil.WithConfig(map[string]any{
				"collection": "{{ trigger.items }}",
			})),
			testutil.Node("gate", models.NodeKindConditionIf, testutil.WithConfig(map[string]any{
				"expression": "index >= 1",
			})),
			testutil.Node("stop", models.NodeKindLoopBreak),
			testutil.Node("bump", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "int(variables.count) + 1",
				"variable":   "count",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "each", models.PortMain),
			testutil.Connect("each", "body", "gate", models.PortMain),
			testutil.Connect("gate", "true", "stop", models.PortMain),
			testutil.Connect("gate", "false", "bump", models.PortMain),
			testutil.Connect("each", "done", "finish", models.PortMain),
		},
		testutil.WithVariables(map[string]any{"count": 0}),
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-break", map[string]any{
		"items": []any{"a", "b", "c", "d", "e"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)

	// Iteration 0 takes the false branch, iteration 1 sets the break, and the
	// loop stops before iteration 2.
	assert.Equal(t, map[string]any{"count": 5, "processed": 2}, result.Output)
	assert.Equal(t, 1, result.Variables["count"])
}

func TestParallelMerge(t *testing.T) {
	definition := testutil.Definition("wf-parallel",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("fan", models.NodeKindFlowParallel),
			testutil.Node("left", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": `"left"`,
			})),
			testutil.Node("right", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": `"right"`,
			})),
			testutil.Node("join", models.NodeKindFlowMerge),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "fan", models.PortMain),
			testutil.Connect("fan", "branch", "left", models.PortMain),
			testutil.Connect("fan", "branch", "right", models.PortMain),
			testutil.Connect("left", "success", "join", "a"),
			testutil.Connect("right", "success", "join", "b"),
			testutil.Connect("join", "merged", "finish", models.PortMain),
		},
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-parallel", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)

	branches, ok := result.Output["branches"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"result": "left"}, branches["a"])
	assert.Equal(t, map[string]any{"result": "right"}, branches["b"])
}

func TestParallelBranchFailureFailsExecution(t *testing.T) {
	definition := testutil.Definition("wf-failfast",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("fan", models.NodeKindFlowParallel),
			testutil.Node("bad", models.NodeKindActionModule, testutil.WithConfig(map[string]any{
				"module": "crm",
				"action": "sync",
			})),
			testutil.Node("slow", models.NodeKindActionDelay, testutil.WithConfig(map[string]any{
				"duration": "30s",
			})),
			testutil.Node("join", models.NodeKindFlowMerge),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "fan", models.PortMain),
			testutil.Connect("fan", "branch", "bad", models.PortMain),
			testutil.Connect("fan", "branch", "slow", models.PortMain),
			testutil.Connect("bad", "success", "join", "a"),
			testutil.Connect("slow", "success", "join", "b"),
			testutil.Connect("join", "merged", "finish", models.PortMain),
		},
		testutil.WithLimits(models.ExecutionLimits{MaxRetries: models.Retries(1)}),
	)

	gw := &scriptedGateway{err: errors.New("crm down")}
	eng, _ := newTestEngine(t, testConfig(), gw, nil, definition)

	started := time.Now()

	result, err := eng.Execute(context.Background(), "wf-failfast", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)

	// The failed branch cancels the delaying one instead of waiting it out.
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestZeroRetriesFailsImmediately(t *testing.T) {
	definition := testutil.Definition("wf-noretry",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("call", models.NodeKindActionModule, testutil.WithConfig(map[string]any{
				"module": "crm",
				"action": "sync",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "call", models.PortMain),
			testutil.Connect("call", "success", "finish", models.PortMain),
		},
		testutil.WithLimits(models.ExecutionLimits{MaxRetries: models.Retries(0)}),
	)

	gw := &scriptedGateway{err: errors.New("crm down")}
	eng, _ := newTestEngine(t, testConfig(), gw, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-noretry", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, 1, gw.callCount())
}

func TestMergeJoinsBranchesOnSamePort(t *testing.T) {
	definition := testutil.Definition("wf-sameport",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("fan", models.NodeKindFlowParallel),
			testutil.Node("left", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": `"left"`,
			})),
			testutil.Node("right", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": `"right"`,
			})),
			testutil.Node("join", models.NodeKindFlowMerge),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "fan", models.PortMain),
			testutil.Connect("fan", "branch", "left", models.PortMain),
			testutil.Connect("fan", "branch", "right", models.PortMain),
			testutil.Connect("left", "success", "join", "in"),
			testutil.Connect("right", "success", "join", "in"),
			testutil.Connect("join", "merged", "finish", models.PortMain),
		},
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-sameport", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Contains(t, result.Path, "join")
	assert.Contains(t, result.Path, "finish")
}

func TestMergeInsideLoopJoinsEveryIteration(t *testing.T) {
	definition := testutil.Definition("wf-loopmerge",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("each", models.NodeKindLoopForEach, testutil.WithConfig(map[string]any{
				"collection": "{{ trigger.items }}",
			})),
			testutil.Node("left", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": `"left"`,
			})),
			testutil.Node("right", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": `"right"`,
			})),
			testutil.Node("join", models.NodeKindFlowMerge),
			testutil.Node("bump", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "int(variables.joins) + 1",
				"variable":   "joins",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "each", models.PortMain),
			testutil.Connect("each", "body", "left", models.PortMain),
			testutil.Connect("each", "body", "right", models.PortMain),
			testutil.Connect("left", "success", "join", "a"),
			testutil.Connect("right", "success", "join", "b"),
			testutil.Connect("join", "merged", "bump", models.PortMain),
			testutil.Connect("each", "done", "finish", models.PortMain),
		},
		testutil.WithVariables(map[string]any{"joins": 0}),
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-loopmerge", map[string]any{
		"items": []any{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)

	// The join waits for both arrivals again on every pass through the body.
	assert.Equal(t, 3, result.Variables["joins"])
}

func TestParallelBranchesIsolateLoopScopes(t *testing.T) {
	definition := testutil.Definition("wf-scopes",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("fan", models.NodeKindFlowParallel),
			testutil.Node("each", models.NodeKindLoopForEach, testutil.WithConfig(map[string]any{
				"collection": "{{ trigger.items }}",
			})),
			testutil.Node("linger", models.NodeKindActionDelay, testutil.WithConfig(map[string]any{
				"duration": "300ms",
			})),
			testutil.Node("settle", models.NodeKindActionDelay, testutil.WithConfig(map[string]any{
				"duration": "50ms",
			})),
			testutil.Node("peek", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "item == nil",
				"variable":   "isolated",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "fan", models.PortMain),
			testutil.Connect("fan", "branch", "each", models.PortMain),
			testutil.Connect("each", "body", "linger", models.PortMain),
			testutil.Connect("fan", "branch", "settle", models.PortMain),
			testutil.Connect("settle", "success", "peek", models.PortMain),
			testutil.Connect("each", "done", "finish", models.PortMain),
		},
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-scopes", map[string]any{
		"items": []any{"only"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)

	// The sibling branch evaluates while the loop branch is mid-iteration;
	// its scope must not see the loop's item binding.
	assert.Equal(t, true, result.Variables["isolated"])
}

func TestWhileCapConditionErrorFails(t *testing.T) {
	definition := testutil.Definition("wf-capcheck",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("wait", models.NodeKindLoopWhile, testutil.WithConfig(map[string]any{
				"condition": "1 % int(variables.d) >= 0",
			})),
			testutil.Node("drop", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "int(variables.d) - 1",
				"variable":   "d",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "wait", models.PortMain),
			testutil.Connect("wait", "body", "drop", models.PortMain),
			testutil.Connect("wait", "done", "finish", models.PortMain),
		},
		testutil.WithVariables(map[string]any{"d": 2}),
		testutil.WithLimits(models.ExecutionLimits{MaxLoopIterations: 2}),
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	// After two iterations d reaches zero, so the post-cap condition check
	// divides by zero. That error must surface instead of being dropped.
	result, err := eng.Execute(context.Background(), "wf-capcheck", map[string]any{})
	require.Error(t, err)

	var nodeErr *models.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "wait", nodeErr.NodeID)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
}

func TestExecutionTimeout(t *testing.T) {
	definition := testutil.Definition("wf-timeout",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("slow", models.NodeKindActionDelay, testutil.WithConfig(map[string]any{
				"duration": "30s",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "slow", models.PortMain),
			testutil.Connect("slow", "success", "finish", models.PortMain),
		},
		testutil.WithLimits(models.ExecutionLimits{Timeout: models.Duration(100 * time.Millisecond)}),
	)

	eng, store := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-timeout", map[string]any{})
	require.ErrorIs(t, err, models.ErrExecutionTimeout)
	assert.Equal(t, models.ExecutionStatusTimedOut, result.Status)
	assert.Equal(t, "slow", result.ErrorNodeID)

	stored, err := store.ExecutionByID(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusTimedOut, stored.Status)
}

func TestDisabledNodeSkipsChain(t *testing.T) {
	definition := testutil.Definition("wf-disabled",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("off", models.NodeKindDataTransform, testutil.WithConfig(map[string]any{
				"expression": "1",
			}), testutil.Disabled()),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "off", models.PortMain),
			testutil.Connect("start", models.PortMain, "finish", models.PortMain),
		},
	)

	eng, store := newTestEngine(t, testConfig(), nil, nil, definition)

	result, err := eng.Execute(context.Background(), "wf-disabled", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.NotContains(t, result.Path, "off")

	states, err := store.NodeStates(context.Background(), result.ExecutionID)
	require.NoError(t, err)

	byNode := make(map[string]models.NodeStatus, len(states))
	for _, state := range states {
		byNode[state.NodeID] = state.Status
	}

	assert.Equal(t, models.NodeStatusSkipped, byNode["off"])
}

func TestMatchTriggerKindOrder(t *testing.T) {
	definition := testutil.Definition("wf-mixed",
		[]*models.NodeSpec{
			testutil.Node("chat", models.NodeKindTriggerChatCommand, testutil.WithConfig(map[string]any{
				"command": "deploy",
			})),
			testutil.Node("hook", models.NodeKindTriggerWebhook),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("chat", models.PortMain, "finish", models.PortMain),
			testutil.Connect("hook", models.PortMain, "finish", models.PortMain),
		},
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil)

	// The catch-all webhook trigger must not shadow the chat command.
	nodeID, err := eng.matchTrigger(definition, map[string]any{"command": "/deploy"})
	require.NoError(t, err)
	assert.Equal(t, "chat", nodeID)

	nodeID, err = eng.matchTrigger(definition, map[string]any{"event": "push"})
	require.NoError(t, err)
	assert.Equal(t, "hook", nodeID)
}

func TestTriggerMismatch(t *testing.T) {
	definition := testutil.Definition("wf-filtered",
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook, testutil.WithConfig(map[string]any{
				"event": "order.created",
			})),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "finish", models.PortMain),
		},
	)

	eng, _ := newTestEngine(t, testConfig(), nil, nil, definition)

	_, err := eng.Execute(context.Background(), "wf-filtered", map[string]any{"event": "order.deleted"})
	require.ErrorIs(t, err, ErrTriggerMismatch)

	_, _, err = eng.Submit(context.Background(), "wf-filtered", map[string]any{"event": "order.deleted"})
	require.ErrorIs(t, err, ErrTriggerMismatch)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(2, 1))
	assert.Equal(t, 8*time.Second, retryDelay(2, 3))
	assert.Equal(t, maxRetryDelay, retryDelay(2, 10))
}
