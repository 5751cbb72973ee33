package action

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/models"
)

// scriptedGateway records invocations and replays a scripted response.
type scriptedGateway struct {
	requests []gateway.InvocationRequest
	resp     *gateway.InvocationResponse
	err      error
}

func (g *scriptedGateway) Invoke(_ context.Context, req gateway.InvocationRequest) (*gateway.InvocationResponse, error) {
	g.requests = append(g.requests, req)

	if g.err != nil {
		return nil, g.err
	}

	return g.resp, nil
}

func testContext() *models.ExecutionContext {
	return models.NewExecutionContext("exec-1", "wf-1", 1,
		map[string]any{"user": "ada", "amount": 42.0},
		map[string]any{"endpoint": "https://hooks.example.com/deliver"},
	)
}

func TestModuleNodeExecute(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{
		resp: &gateway.InvocationResponse{
			Success: true,
			Payload: map[string]any{"id": "record-1"},
		},
	}

	node, err := NewModuleNode("call", map[string]any{
		"module": "crm",
		"action": "upsert",
		"params": map[string]any{
			"user":   "{{ trigger.user }}",
			"amount": "{{ trigger.amount }}",
		},
		"timeout": "5s",
	}, gw, eval)
	require.NoError(t, err)

	outputs, err := node.Execute(context.Background(), testContext(), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, OutputPortSuccess)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, "module:crm", req.Target)
	assert.Equal(t, "upsert", req.Action)
	assert.Equal(t, map[string]any{"user": "ada", "amount": 42.0}, req.Params)
	assert.Equal(t, 5*time.Second, req.Timeout)

	result := outputs[OutputPortSuccess]
	assert.Equal(t, models.NodeStatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"id": "record-1"}, result.Data["payload"])
}

func TestModuleNodeValidation(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{}

	_, err := NewModuleNode("call", map[string]any{"action": "upsert"}, gw, eval)
	require.ErrorContains(t, err, "missing required field 'module'")

	_, err = NewModuleNode("call", map[string]any{"module": "crm"}, gw, eval)
	require.ErrorContains(t, err, "missing required field 'action'")
}

func TestModuleNodeGatewayFailureReturnsError(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{err: errors.New("connection refused")}

	node, err := NewModuleNode("call", map[string]any{"module": "crm", "action": "upsert"}, gw, eval)
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), testContext(), nil)
	require.Error(t, err)

	var nodeErr *models.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "call", nodeErr.NodeID)
	assert.True(t, models.Retryable(err))
}

func TestWebhookNodeExecute(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{
		resp: &gateway.InvocationResponse{Success: true, Status: 200},
	}

	node, err := NewWebhookNode("post", map[string]any{
		"url": "{{ variables.endpoint }}",
		"payload": map[string]any{
			"user": "{{ trigger.user }}",
		},
	}, gw, eval)
	require.NoError(t, err)

	outputs, err := node.Execute(context.Background(), testContext(), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, OutputPortSuccess)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, "https://hooks.example.com/deliver", req.Target)
	assert.Equal(t, "deliver", req.Action)
	assert.Equal(t, map[string]any{"user": "ada"}, req.Params)

	result := outputs[OutputPortSuccess]
	assert.Equal(t, 200, result.Data["status"])
}

func TestWebhookNodeRejectsNonHTTPURL(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{}

	node, err := NewWebhookNode("post", map[string]any{"url": "ftp://example.com"}, gw, eval)
	require.NoError(t, err)

	outputs, err := node.Execute(context.Background(), testContext(), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, OutputPortError)
	assert.Contains(t, outputs[OutputPortError].Error, "invalid webhook url")
	assert.Empty(t, gw.requests)
}

func TestNotifyNodeDeliversThroughGateway(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{
		resp: &gateway.InvocationResponse{
			Success: true,
			Payload: map[string]any{"delivered": true},
		},
	}

	node, err := NewNotifyNode("notify", map[string]any{
		"channel": "ops",
		"message": "payment from {{ trigger.user }}",
	}, gw, eval, slog.Default())
	require.NoError(t, err)

	outputs, err := node.Execute(context.Background(), testContext(), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, OutputPortSuccess)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, "module:notify", req.Target)
	assert.Equal(t, "send", req.Action)
	assert.Equal(t, "payment from ada", req.Params["message"])

	result := outputs[OutputPortSuccess]
	assert.Equal(t, "ops", result.Data["channel"])
	assert.Equal(t, map[string]any{"delivered": true}, result.Data["payload"])
}

func TestNotifyNodeFallsBackToLog(t *testing.T) {
	eval := expression.NewEvaluator(0)
	gw := &scriptedGateway{err: gateway.ErrUnknownTarget}

	node, err := NewNotifyNode("notify", map[string]any{
		"channel": "ops",
		"message": "hello",
	}, gw, eval, slog.Default())
	require.NoError(t, err)

	outputs, err := node.Execute(context.Background(), testContext(), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, OutputPortSuccess)
	assert.Equal(t, "hello", outputs[OutputPortSuccess].Data["message"])
}

func TestNewDelayNodeValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		want    time.Duration
		wantErr string
	}{
		{name: "duration string", config: map[string]any{"duration": "1m30s"}, want: 90 * time.Second},
		{name: "duration seconds", config: map[string]any{"duration": 2.5}, want: 2500 * time.Millisecond},
		{name: "duration int", config: map[string]any{"duration": 10}, want: 10 * time.Second},
		{name: "missing", config: map[string]any{}, wantErr: "missing required field 'duration'"},
		{name: "invalid string", config: map[string]any{"duration": "soon"}, wantErr: "invalid duration"},
		{name: "negative", config: map[string]any{"duration": "-5s"}, wantErr: "must be positive"},
		{name: "over cap", config: map[string]any{"duration": "25h"}, wantErr: "exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := NewDelayNode("wait", tt.config)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, node.Duration())
		})
	}
}

func TestDelayNodeWaits(t *testing.T) {
	node, err := NewDelayNode("wait", map[string]any{"duration": "20ms"})
	require.NoError(t, err)

	start := time.Now()

	outputs, err := node.Execute(context.Background(), testContext(), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, OutputPortSuccess)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, "20ms", outputs[OutputPortSuccess].Data["waited"])
}

func TestDelayNodeContextCancellation(t *testing.T) {
	node, err := NewDelayNode("wait", map[string]any{"duration": "10s"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = node.Execute(ctx, testContext(), nil)
	require.ErrorIs(t, err, models.ErrExecutionTimeout)
}

func TestDelayNodeCooperativeCancellation(t *testing.T) {
	node, err := NewDelayNode("wait", map[string]any{"duration": "10s"})
	require.NoError(t, err)

	ec := testContext()
	ec.Cancel()

	start := time.Now()

	_, err = node.Execute(context.Background(), ec, nil)
	require.ErrorIs(t, err, models.ErrCancellationRequested)
	assert.Less(t, time.Since(start), 2*time.Second)
}
