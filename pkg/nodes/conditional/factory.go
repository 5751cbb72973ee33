// Package conditional provides the conditional node factory for definition validation.
package conditional

import (
	"errors"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// Factory describes the if node type.
type Factory struct{}

// NewFactory creates a new factory instance.
func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

// Kind returns the node kind.
func (f *Factory) Kind() models.NodeKind {
	return models.NodeKindConditionIf
}

// Name returns the factory name.
func (f *Factory) Name() string {
	return "If"
}

// Description returns the factory description.
func (f *Factory) Description() string {
	return "Evaluates a condition and routes execution to the true or false path."
}

// Schema returns the JSON schema for the node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Boolean expression to evaluate. Supports {{...}} interpolation.",
				"examples": []string{
					`variables.status == "active"`,
					`nodes.fetch.status_code == 200`,
				},
			},
			"left":  map[string]any{"description": "Left operand for the comparison form."},
			"right": map[string]any{"description": "Right operand for the comparison form."},
			"operator": map[string]any{
				"type": "string",
				"enum": []string{
					OperatorEquals, OperatorNotEquals,
					OperatorGT, OperatorGTE, OperatorLT, OperatorLTE,
					OperatorContains,
				},
			},
		},
	}
}

// Validate validates the node configuration.
func (f *Factory) Validate(config map[string]any) error {
	if expr, ok := config["expression"].(string); ok && expr != "" {
		return nil
	}

	operator, ok := config["operator"].(string)
	if !ok {
		return errors.New("missing required field 'expression' or 'operator'")
	}

	if !validOperator(operator) {
		return errors.New("unknown operator: " + operator)
	}

	if _, ok := config["left"]; !ok {
		return errors.New("missing required field 'left'")
	}

	if _, ok := config["right"]; !ok {
		return errors.New("missing required field 'right'")
	}

	return nil
}
