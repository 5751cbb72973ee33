package switchnode

import (
	"errors"
	"fmt"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// Factory describes the switch node type.
type Factory struct{}

// NewFactory creates a new factory instance.
func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

// Kind returns the node kind.
func (f *Factory) Kind() models.NodeKind {
	return models.NodeKindConditionSwitch
}

// Name returns the factory name.
func (f *Factory) Name() string {
	return "Switch"
}

// Description returns the factory description.
func (f *Factory) Description() string {
	return "Routes execution to different output ports based on a value, first matching case wins."
}

// Schema returns the JSON schema for the node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"type":        "string",
				"description": "Value expression to match. Supports {{...}} interpolation.",
			},
			"cases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value":       map[string]any{"type": "string"},
						"output_port": map[string]any{"type": "string"},
					},
					"required": []string{"value", "output_port"},
				},
			},
		},
		"required": []string{"value"},
	}
}

// Validate validates the node configuration.
func (f *Factory) Validate(config map[string]any) error {
	if _, ok := config["value"].(string); !ok {
		return errors.New("missing required field 'value'")
	}

	if casesConfig, ok := config["cases"].([]any); ok {
		for i, caseAny := range casesConfig {
			caseMap, ok := caseAny.(map[string]any)
			if !ok {
				return fmt.Errorf("case %d must be an object", i)
			}

			if _, ok := caseMap["value"].(string); !ok {
				return fmt.Errorf("case %d missing 'value'", i)
			}

			if _, ok := caseMap["output_port"].(string); !ok {
				return fmt.Errorf("case %d missing 'output_port'", i)
			}
		}
	}

	return nil
}
