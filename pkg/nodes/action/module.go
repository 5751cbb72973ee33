// Package action provides the side-effecting nodes: module calls, webhook
// calls, notifications and delays. All external effects go through the
// gateway collaborator and are subject to the engine's retry policy.
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/models"
)

const (
	OutputPortSuccess = "success"
	OutputPortError   = models.PortError
	InputPortMain     = models.PortMain
)

// ModuleNode invokes a named in-process module through the gateway.
type ModuleNode struct {
	id      string
	module  string
	action  string
	params  map[string]any
	timeout time.Duration
	gw      gateway.Gateway
	eval    *expression.Evaluator
}

// NewModuleNode creates a new module call node.
func NewModuleNode(id string, config map[string]any, gw gateway.Gateway, eval *expression.Evaluator) (*ModuleNode, error) {
	module, ok := config["module"].(string)
	if !ok {
		return nil, errors.New("missing required field 'module'")
	}

	act, ok := config["action"].(string)
	if !ok {
		return nil, errors.New("missing required field 'action'")
	}

	params, _ := config["params"].(map[string]any)

	return &ModuleNode{
		id:      id,
		module:  module,
		action:  act,
		params:  params,
		timeout: parseTimeout(config),
		gw:      gw,
		eval:    eval,
	}, nil
}

// ID returns the node ID.
func (n *ModuleNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *ModuleNode) Kind() models.NodeKind {
	return models.NodeKindActionModule
}

// Execute interpolates the call parameters and delegates to the gateway.
// Gateway failures are returned so the engine's retry policy applies.
func (n *ModuleNode) Execute(ctx context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	scope := expression.NewScope(ec)

	params, err := n.eval.InterpolateConfig(ctx, n.params, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("parameter interpolation failed: %v", err)), nil
	}

	resp, err := n.gw.Invoke(ctx, gateway.InvocationRequest{
		Target:  "module:" + n.module,
		Action:  n.action,
		Params:  params,
		Timeout: n.timeout,
	})
	if err != nil {
		return nil, models.NewNodeExecutionError(n.id, err)
	}

	return successResult(n.id, map[string]any{
		"module":  n.module,
		"action":  n.action,
		"payload": resp.Payload,
	}), nil
}

// InputPorts returns the input ports for the node.
func (n *ModuleNode) InputPorts() []models.InputPort {
	return mainInput(n.id)
}

// OutputPorts returns the output ports for the node.
func (n *ModuleNode) OutputPorts() []models.OutputPort {
	return successErrorOutputs(n.id)
}

func parseTimeout(config map[string]any) time.Duration {
	switch v := config["timeout"].(type) {
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}

	return 0
}

func mainInput(nodeID string) []models.InputPort {
	return []models.InputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(nodeID, InputPortMain),
				NodeID:      nodeID,
				Name:        InputPortMain,
				Description: "Main input for triggering the action",
			},
		},
	}
}

func successErrorOutputs(nodeID string) []models.OutputPort {
	return []models.OutputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(nodeID, OutputPortSuccess),
				NodeID:      nodeID,
				Name:        OutputPortSuccess,
				Description: "Action result on success",
			},
		},
		{
			Port: models.Port{
				ID:          models.MakePortID(nodeID, OutputPortError),
				NodeID:      nodeID,
				Name:        OutputPortError,
				Description: "Error information when the action fails",
			},
		},
	}
}

func successResult(nodeID string, data map[string]any) map[string]models.NodeResult {
	return map[string]models.NodeResult{
		OutputPortSuccess: {
			NodeID:    nodeID,
			Data:      data,
			Status:    models.NodeStatusCompleted,
			Timestamp: time.Now().UTC(),
		},
	}
}

func errorResult(nodeID, message string) map[string]models.NodeResult {
	return map[string]models.NodeResult{
		OutputPortError: {
			NodeID: nodeID,
			Data: map[string]any{
				"error": message,
			},
			Status:    models.NodeStatusFailed,
			Error:     message,
			Timestamp: time.Now().UTC(),
		},
	}
}
