package transform

import (
	"errors"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// Factory describes the transform node type.
type Factory struct{}

// NewFactory creates a new factory instance.
func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

// Kind returns the node kind.
func (f *Factory) Kind() models.NodeKind {
	return models.NodeKindDataTransform
}

// Name returns the factory name.
func (f *Factory) Name() string {
	return "Transform"
}

// Description returns the factory description.
func (f *Factory) Description() string {
	return "Computes an output from the node input and variables using a sandboxed snippet."
}

// Schema returns the JSON schema for the node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Transform snippet. The node input is bound as 'input'.",
				"examples": []string{
					`map(input.items, {#.name})`,
					`{"total": sum(map(input.items, {#.price}))}`,
				},
			},
			"variable": map[string]any{
				"type":        "string",
				"description": "Optional variable name that receives the result.",
			},
		},
		"required": []string{"expression"},
	}
}

// Validate validates the node configuration.
func (f *Factory) Validate(config map[string]any) error {
	if _, ok := config["expression"].(string); !ok {
		return errors.New("missing required field 'expression'")
	}

	return nil
}
