package loop

import (
	"errors"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// ForEachFactory describes the foreach loop node type.
type ForEachFactory struct{}

// NewForEachFactory creates a new factory instance.
func NewForEachFactory() protocol.NodeFactory {
	return &ForEachFactory{}
}

// Kind returns the node kind.
func (f *ForEachFactory) Kind() models.NodeKind {
	return models.NodeKindLoopForEach
}

// Name returns the factory name.
func (f *ForEachFactory) Name() string {
	return "For Each"
}

// Description returns the factory description.
func (f *ForEachFactory) Description() string {
	return "Iterates a collection in order, running the loop body once per item with item and index bound."
}

// Schema returns the JSON schema for the node configuration.
func (f *ForEachFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"collection": map[string]any{
				"type":        "string",
				"description": "Collection reference, e.g. {{variables.orders}}.",
			},
		},
		"required": []string{"collection"},
	}
}

// Validate validates the node configuration.
func (f *ForEachFactory) Validate(config map[string]any) error {
	if _, ok := config["collection"].(string); !ok {
		return errors.New("missing required field 'collection'")
	}

	return nil
}

// WhileFactory describes the while loop node type.
type WhileFactory struct{}

// NewWhileFactory creates a new factory instance.
func NewWhileFactory() protocol.NodeFactory {
	return &WhileFactory{}
}

// Kind returns the node kind.
func (f *WhileFactory) Kind() models.NodeKind {
	return models.NodeKindLoopWhile
}

// Name returns the factory name.
func (f *WhileFactory) Name() string {
	return "While"
}

// Description returns the factory description.
func (f *WhileFactory) Description() string {
	return "Repeats the loop body while a condition holds, bounded by the iteration cap."
}

// Schema returns the JSON schema for the node configuration.
func (f *WhileFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Boolean expression re-evaluated before each iteration.",
			},
		},
		"required": []string{"condition"},
	}
}

// Validate validates the node configuration.
func (f *WhileFactory) Validate(config map[string]any) error {
	if _, ok := config["condition"].(string); !ok {
		return errors.New("missing required field 'condition'")
	}

	return nil
}

// BreakFactory describes the loop break node type.
type BreakFactory struct{}

// NewBreakFactory creates a new factory instance.
func NewBreakFactory() protocol.NodeFactory {
	return &BreakFactory{}
}

// Kind returns the node kind.
func (f *BreakFactory) Kind() models.NodeKind {
	return models.NodeKindLoopBreak
}

// Name returns the factory name.
func (f *BreakFactory) Name() string {
	return "Break"
}

// Description returns the factory description.
func (f *BreakFactory) Description() string {
	return "Halts the enclosing loop at its next iteration check."
}

// Schema returns the JSON schema for the node configuration.
func (f *BreakFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"loop": map[string]any{
				"type":        "string",
				"description": "Optional loop node id; defaults to the innermost loop.",
			},
		},
	}
}

// Validate validates the node configuration.
func (f *BreakFactory) Validate(_ map[string]any) error {
	return nil
}
