package flow

import (
	"fmt"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// ParallelFactory describes the parallel fan-out node type.
type ParallelFactory struct{}

// NewParallelFactory creates a new factory instance.
func NewParallelFactory() protocol.NodeFactory {
	return &ParallelFactory{}
}

// Kind returns the node kind.
func (f *ParallelFactory) Kind() models.NodeKind {
	return models.NodeKindFlowParallel
}

// Name returns the factory name.
func (f *ParallelFactory) Name() string {
	return "Parallel"
}

// Description returns the factory description.
func (f *ParallelFactory) Description() string {
	return "Fans execution out to all outgoing connections concurrently."
}

// Schema returns the JSON schema for the node configuration.
func (f *ParallelFactory) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Validate validates the node configuration.
func (f *ParallelFactory) Validate(_ map[string]any) error {
	return nil
}

// MergeFactory describes the merge fan-in node type.
type MergeFactory struct{}

// NewMergeFactory creates a new factory instance.
func NewMergeFactory() protocol.NodeFactory {
	return &MergeFactory{}
}

// Kind returns the node kind.
func (f *MergeFactory) Kind() models.NodeKind {
	return models.NodeKindFlowMerge
}

// Name returns the factory name.
func (f *MergeFactory) Name() string {
	return "Merge"
}

// Description returns the factory description.
func (f *MergeFactory) Description() string {
	return "Waits for all parallel branches and combines their results."
}

// Schema returns the JSON schema for the node configuration.
func (f *MergeFactory) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Validate validates the node configuration.
func (f *MergeFactory) Validate(_ map[string]any) error {
	return nil
}

// EndFactory describes the workflow end node type.
type EndFactory struct{}

// NewEndFactory creates a new factory instance.
func NewEndFactory() protocol.NodeFactory {
	return &EndFactory{}
}

// Kind returns the node kind.
func (f *EndFactory) Kind() models.NodeKind {
	return models.NodeKindFlowEnd
}

// Name returns the factory name.
func (f *EndFactory) Name() string {
	return "End"
}

// Description returns the factory description.
func (f *EndFactory) Description() string {
	return "Terminates the workflow path, optionally shaping the final output."
}

// Schema returns the JSON schema for the node configuration.
func (f *EndFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"output": map[string]any{
				"type":        "object",
				"description": "Output template. Values support {{...}} interpolation.",
			},
		},
	}
}

// Validate validates the node configuration.
func (f *EndFactory) Validate(config map[string]any) error {
	if raw, ok := config["output"]; ok {
		if _, ok := raw.(map[string]any); !ok {
			return fmt.Errorf("output must be an object, got %T", raw)
		}
	}

	return nil
}
