// Package protocol defines the interfaces and contracts for workflow nodes.
package protocol

import (
	"github.com/relayflow/relay/pkg/models"
)

// NodeFactory provides metadata about a node kind and validates its
// configuration. The execution engine does not dispatch through factories —
// dispatch is an exhaustive switch over the closed kind set — but the
// definition loader uses them to validate node configs before publish and
// the builder surface uses them to describe available node types.
type NodeFactory interface {
	// Kind returns the node kind this factory describes
	Kind() models.NodeKind

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any

	// Validate checks a node configuration without instantiating the node
	Validate(config map[string]any) error
}
