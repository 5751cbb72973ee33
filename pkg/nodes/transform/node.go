// Package transform provides the data transformation node for workflow graph execution.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/models"
)

const (
	OutputPortSuccess = "success"
	OutputPortError   = models.PortError
	InputPortMain     = models.PortMain
)

// TransformNode computes an output from its input and the read-only variable
// scope using a sandboxed transform snippet. The optional target variable
// receives the result in the execution scope.
type TransformNode struct {
	id       string
	snippet  string
	variable string
	eval     *expression.Evaluator
}

// NewTransformNode creates a new data transformation node.
func NewTransformNode(id string, config map[string]any, eval *expression.Evaluator) (*TransformNode, error) {
	snippet, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	variable, _ := config["variable"].(string)

	return &TransformNode{
		id:       id,
		snippet:  snippet,
		variable: variable,
		eval:     eval,
	}, nil
}

// ID returns the node ID.
func (n *TransformNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *TransformNode) Kind() models.NodeKind {
	return models.NodeKindDataTransform
}

// Execute runs the transform snippet against the node's input.
func (n *TransformNode) Execute(ctx context.Context, ec *models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	scope := expression.NewScope(ec)

	var input any
	if main, ok := inputs[InputPortMain]; ok {
		input = main.Data
	}

	result, err := n.eval.Transform(ctx, n.snippet, input, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("transformation failed: %v", err)), nil
	}

	if n.variable != "" {
		ec.SetVariable(n.variable, result)
	}

	return map[string]models.NodeResult{
		OutputPortSuccess: {
			NodeID: n.id,
			Data: map[string]any{
				"result": result,
			},
			Status: models.NodeStatusCompleted,
		},
	}, nil
}

// InputPorts returns the input ports for the node.
func (n *TransformNode) InputPorts() []models.InputPort {
	return []models.InputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, InputPortMain),
				NodeID:      n.id,
				Name:        InputPortMain,
				Description: "Input data for the transformation",
			},
		},
	}
}

// OutputPorts returns the output ports for the node.
func (n *TransformNode) OutputPorts() []models.OutputPort {
	return []models.OutputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortSuccess),
				NodeID:      n.id,
				Name:        OutputPortSuccess,
				Description: "Transformation result",
			},
		},
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortError),
				NodeID:      n.id,
				Name:        OutputPortError,
				Description: "Error information when the transformation fails",
			},
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
			Status: models.NodeStatusFailed,
			Error:  message,
		},
	}
}
