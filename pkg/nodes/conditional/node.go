// Package conditional provides the if-branching node for workflow graph execution.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/models"
)

const (
	OutputPortTrue  = "true"
	OutputPortFalse = "false"
	OutputPortError = models.PortError
	InputPortMain   = models.PortMain
)

// Comparison operators accepted by the left/right form.
const (
	OperatorEquals    = "equals"
	OperatorNotEquals = "not_equals"
	OperatorGT        = "gt"
	OperatorGTE       = "gte"
	OperatorLT        = "lt"
	OperatorLTE       = "lte"
	OperatorContains  = "contains"
)

// IfNode routes execution to the true or false port. The condition is either
// a free-form expression or a left/operator/right comparison.
type IfNode struct {
	id         string
	expression string
	left       any
	right      any
	operator   string
	eval       *expression.Evaluator
}

// NewIfNode creates a new conditional branching node.
func NewIfNode(id string, config map[string]any, eval *expression.Evaluator) (*IfNode, error) {
	node := &IfNode{id: id, eval: eval}

	if expr, ok := config["expression"].(string); ok && expr != "" {
		node.expression = expr

		return node, nil
	}

	operator, ok := config["operator"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression' or 'operator'")
	}

	if !validOperator(operator) {
		return nil, fmt.Errorf("unknown operator %q", operator)
	}

	left, ok := config["left"]
	if !ok {
		return nil, errors.New("missing required field 'left'")
	}

	right, ok := config["right"]
	if !ok {
		return nil, errors.New("missing required field 'right'")
	}

	node.left = left
	node.right = right
	node.operator = operator

	return node, nil
}

// ID returns the node ID.
func (n *IfNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *IfNode) Kind() models.NodeKind {
	return models.NodeKindConditionIf
}

// Execute evaluates the condition and activates the true or false port.
// Evaluation failures are routed to the error port, never returned.
func (n *IfNode) Execute(ctx context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	scope := expression.NewScope(ec)

	result, err := n.evaluate(ctx, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("condition evaluation failed: %v", err)), nil
	}

	port := OutputPortFalse
	if result {
		port = OutputPortTrue
	}

	return map[string]models.NodeResult{
		port: {
			NodeID: n.id,
			Data: map[string]any{
				"condition_result": result,
			},
			Status: models.NodeStatusCompleted,
		},
	}, nil
}

func (n *IfNode) evaluate(ctx context.Context, scope *expression.Scope) (bool, error) {
	if n.expression != "" {
		return n.eval.EvaluateBool(ctx, n.expression, scope)
	}

	left, err := n.resolveOperand(ctx, n.left, scope)
	if err != nil {
		return false, err
	}

	right, err := n.resolveOperand(ctx, n.right, scope)
	if err != nil {
		return false, err
	}

	return compare(left, right, n.operator)
}

func (n *IfNode) resolveOperand(ctx context.Context, operand any, scope *expression.Scope) (any, error) {
	if s, ok := operand.(string); ok {
		return n.eval.Interpolate(ctx, s, scope)
	}

	return operand, nil
}

func compare(left, right any, operator string) (bool, error) {
	switch operator {
	case OperatorEquals:
		return equal(left, right), nil
	case OperatorNotEquals:
		return !equal(left, right), nil
	case OperatorContains:
		ls, lok := left.(string)
		rs, rok := right.(string)

		if lok && rok {
			return strings.Contains(ls, rs), nil
		}

		if items, ok := left.([]any); ok {
			for _, item := range items {
				if equal(item, right) {
					return true, nil
				}
			}

			return false, nil
		}

		return false, fmt.Errorf("contains requires string or list operands")
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE:
		ln, lok := toFloat(left)
		rn, rok := toFloat(right)

		if !lok || !rok {
			return false, fmt.Errorf("operator %s requires numeric operands", operator)
		}

		switch operator {
		case OperatorGT:
			return ln > rn, nil
		case OperatorGTE:
			return ln >= rn, nil
		case OperatorLT:
			return ln < rn, nil
		default:
			return ln <= rn, nil
		}
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// equal compares operands, treating numbers of different Go types as equal
// when their values match.
func equal(left, right any) bool {
	if ln, ok := toFloat(left); ok {
		if rn, ok := toFloat(right); ok {
			return ln == rn
		}
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func validOperator(op string) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorGT, OperatorGTE, OperatorLT, OperatorLTE, OperatorContains:
		return true
	default:
		return false
	}
}

// InputPorts returns the input ports for the node.
func (n *IfNode) InputPorts() []models.InputPort {
	return []models.InputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, InputPortMain),
				NodeID:      n.id,
				Name:        InputPortMain,
				Description: "Main input for triggering the condition evaluation",
			},
		},
	}
}

// OutputPorts returns the output ports for the node.
func (n *IfNode) OutputPorts() []models.OutputPort {
	return []models.OutputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortTrue),
				NodeID:      n.id,
				Name:        OutputPortTrue,
				Description: "Execution path when the condition holds",
			},
		},
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortFalse),
				NodeID:      n.id,
				Name:        OutputPortFalse,
				Description: "Execution path when the condition does not hold",
			},
		},
		{
			Port: models.Port{
				ID:          models.MakePortID(n.id, OutputPortError),
				NodeID:      n.id,
				Name:        OutputPortError,
				Description: "Error information when condition evaluation fails",
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
