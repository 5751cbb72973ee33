// Package flow provides the flow-control nodes: parallel fan-out, merge
// fan-in and workflow end. The engine drives fan-out and fan-in structurally;
// the node types here hold configuration and compute the merge and end
// payloads.
package flow

import (
	"context"
	"fmt"
	"sort"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/models"
)

const (
	OutputPortBranch = "branch"
	OutputPortMerged = "merged"
	InputPortMain    = models.PortMain
)

// ParallelNode fans out execution to every enabled outgoing connection. The
// branches run concurrently under the engine's parallel slot budget.
type ParallelNode struct {
	id string
}

// NewParallelNode creates a new parallel fan-out node.
func NewParallelNode(id string, _ map[string]any) (*ParallelNode, error) {
	return &ParallelNode{id: id}, nil
}

// ID returns the node ID.
func (n *ParallelNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *ParallelNode) Kind() models.NodeKind {
	return models.NodeKindFlowParallel
}

// MergeNode joins parallel branches. It waits for every enabled incoming
// connection; the first failed branch fails the merge and the remaining
// branches are cancelled.
type MergeNode struct {
	id string
}

// NewMergeNode creates a new merge fan-in node.
func NewMergeNode(id string, _ map[string]any) (*MergeNode, error) {
	return &MergeNode{id: id}, nil
}

// ID returns the node ID.
func (n *MergeNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *MergeNode) Kind() models.NodeKind {
	return models.NodeKindFlowMerge
}

// Merge combines the arrived branch results keyed by input port name. Port
// names are sorted so the combined payload is deterministic regardless of
// branch completion order.
func (n *MergeNode) Merge(arrivals map[string]models.NodeResult) models.NodeResult {
	ports := make([]string, 0, len(arrivals))
	for port := range arrivals {
		ports = append(ports, port)
	}

	sort.Strings(ports)

	branches := make(map[string]any, len(ports))
	for _, port := range ports {
		branches[port] = arrivals[port].Data
	}

	return models.NodeResult{
		NodeID: n.id,
		Data:   map[string]any{"branches": branches},
		Status: models.NodeStatusCompleted,
	}
}

// EndNode terminates a path and optionally shapes the execution output.
type EndNode struct {
	id     string
	output map[string]any
	eval   *expression.Evaluator
}

// NewEndNode creates a new end node.
func NewEndNode(id string, config map[string]any, eval *expression.Evaluator) (*EndNode, error) {
	output, _ := config["output"].(map[string]any)

	return &EndNode{id: id, output: output, eval: eval}, nil
}

// ID returns the node ID.
func (n *EndNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *EndNode) Kind() models.NodeKind {
	return models.NodeKindFlowEnd
}

// Output renders the configured output template against the final execution
// scope. When no template is configured the last input payload is the output.
func (n *EndNode) Output(ctx context.Context, ec *models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]any, error) {
	if n.output == nil {
		if in, ok := inputs[InputPortMain]; ok {
			return in.Data, nil
		}

		return nil, nil
	}

	scope := expression.NewScope(ec)

	rendered, err := n.eval.InterpolateConfig(ctx, n.output, scope)
	if err != nil {
		return nil, fmt.Errorf("output template: %w", err)
	}

	return rendered, nil
}
