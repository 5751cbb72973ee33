// Package switchnode provides multi-way switch branching for workflow graph execution.
package switchnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/models"
)

const (
	OutputPortDefault = "default"
	OutputPortError   = models.PortError
	InputPortMain     = models.PortMain
)

// Case is one entry of the ordered case list. The first matching case wins.
type Case struct {
	Value      string `json:"value"`
	OutputPort string `json:"output_port"`
}

// SwitchNode matches a switch value against an ordered case list and routes
// to the matching output port, or to "default" when nothing matches.
type SwitchNode struct {
	id    string
	value string
	cases []Case
	eval  *expression.Evaluator
}

// NewSwitchNode creates a new switch node.
func NewSwitchNode(id string, config map[string]any, eval *expression.Evaluator) (*SwitchNode, error) {
	value, ok := config["value"].(string)
	if !ok {
		return nil, errors.New("missing required field 'value'")
	}

	cases, err := parseCases(config)
	if err != nil {
		return nil, err
	}

	return &SwitchNode{
		id:    id,
		value: value,
		cases: cases,
		eval:  eval,
	}, nil
}

func parseCases(config map[string]any) ([]Case, error) {
	casesConfig, ok := config["cases"].([]any)
	if !ok {
		return nil, nil
	}

	cases := make([]Case, 0, len(casesConfig))

	for i, caseAny := range casesConfig {
		caseMap, ok := caseAny.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("case %d must be an object", i)
		}

		caseValue, ok := caseMap["value"].(string)
		if !ok {
			return nil, fmt.Errorf("case %d missing 'value'", i)
		}

		outputPort, ok := caseMap["output_port"].(string)
		if !ok {
			return nil, fmt.Errorf("case %d missing 'output_port'", i)
		}

		cases = append(cases, Case{Value: caseValue, OutputPort: outputPort})
	}

	return cases, nil
}

// ID returns the node ID.
func (n *SwitchNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *SwitchNode) Kind() models.NodeKind {
	return models.NodeKindConditionSwitch
}

// Execute evaluates the switch value and routes to the first matching case,
// preserving case order.
func (n *SwitchNode) Execute(ctx context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	scope := expression.NewScope(ec)

	result, err := n.eval.Interpolate(ctx, n.value, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("switch value evaluation failed: %v", err)), nil
	}

	valueStr := fmt.Sprintf("%v", result)

	for _, c := range n.cases {
		if c.Value == valueStr {
			return map[string]models.NodeResult{
				c.OutputPort: {
					NodeID: n.id,
					Data: map[string]any{
						"matched_value": valueStr,
						"output_port":   c.OutputPort,
					},
					Status: models.NodeStatusCompleted,
				},
			}, nil
		}
	}

	return map[string]models.NodeResult{
		OutputPortDefault: {
			NodeID: n.id,
			Data: map[string]any{
				"matched_value": valueStr,
				"output_port":   OutputPortDefault,
				"no_match":      true,
			},
			Status: models.NodeStatusCompleted,
		},
	}, nil
}

// InputPorts returns the input ports for the node.
func (n *SwitchNode) InputPorts() []models.InputPort {
	return []models.InputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, InputPortMain),
				NodeID:      n.id,
				Name:        InputPortMain,
				Description: "Main input for triggering the switch evaluation",
			},
		},
	}
}

// OutputPorts returns the output ports for the node, including the dynamic
// per-case ports.
func (n *SwitchNode) OutputPorts() []models.OutputPort {
	ports := []models.OutputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortDefault),
				NodeID:      n.id,
				Name:        OutputPortDefault,
				Description: "Execution path when no cases match",
			},
		},
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortError),
				NodeID:      n.id,
				Name:        OutputPortError,
				Description: "Error information when switch evaluation fails",
			},
		},
	}

	seen := map[string]bool{OutputPortDefault: true, OutputPortError: true}

	for _, c := range n.cases {
		if seen[c.OutputPort] {
			continue
		}

		seen[c.OutputPort] = true
		ports = append(ports, models.OutputPort{
			Port: models.Port{
				ID:          models.MakePortID(n.id, c.OutputPort),
				NodeID:      n.id,
				Name:        c.OutputPort,
				Description: fmt.Sprintf("Execution path for case %q", c.Value),
			},
		})
	}

	return ports
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
