// Package loop provides the foreach, while and break loop nodes. Iteration is
// driven by the engine, which re-enters the loop-body subgraph with a nested
// item/index scope per iteration; the node types here hold the loop
// configuration and evaluate per-iteration conditions.
package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/models"
)

const (
	OutputPortBody = "body"
	OutputPortDone = "done"
	InputPortMain  = models.PortMain
)

// ForEachNode iterates a collection in order, binding item and index into a
// nested scope per iteration.
type ForEachNode struct {
	id         string
	collection string
	eval       *expression.Evaluator
}

// NewForEachNode creates a new foreach loop node.
func NewForEachNode(id string, config map[string]any, eval *expression.Evaluator) (*ForEachNode, error) {
	collection, ok := config["collection"].(string)
	if !ok {
		return nil, errors.New("missing required field 'collection'")
	}

	return &ForEachNode{id: id, collection: collection, eval: eval}, nil
}

// ID returns the node ID.
func (n *ForEachNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *ForEachNode) Kind() models.NodeKind {
	return models.NodeKindLoopForEach
}

// ResolveCollection evaluates the configured collection reference against the
// execution scope and returns its items in order.
func (n *ForEachNode) ResolveCollection(ctx context.Context, ec *models.ExecutionContext) ([]any, error) {
	scope := expression.NewScope(ec)

	value, err := n.eval.Interpolate(ctx, n.collection, scope)
	if err != nil {
		return nil, err
	}

	switch items := value.(type) {
	case []any:
		return items, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("collection %q is not a list (got %T)", n.collection, value)
	}
}

// WhileNode re-evaluates a boolean condition before each iteration. If the
// condition never turns false before the iteration cap, the engine fails the
// execution with the loop limit error instead of truncating silently.
type WhileNode struct {
	id        string
	condition string
	eval      *expression.Evaluator
}

// NewWhileNode creates a new while loop node.
func NewWhileNode(id string, config map[string]any, eval *expression.Evaluator) (*WhileNode, error) {
	condition, ok := config["condition"].(string)
	if !ok {
		return nil, errors.New("missing required field 'condition'")
	}

	return &WhileNode{id: id, condition: condition, eval: eval}, nil
}

// ID returns the node ID.
func (n *WhileNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *WhileNode) Kind() models.NodeKind {
	return models.NodeKindLoopWhile
}

// EvaluateCondition evaluates the loop condition against the current scope.
func (n *WhileNode) EvaluateCondition(ctx context.Context, ec *models.ExecutionContext) (bool, error) {
	return n.eval.EvaluateBool(ctx, n.condition, expression.NewScope(ec))
}

// BreakNode halts the enclosing loop. The engine consults the break flag at
// the next iteration check; the optional loop id targets an outer loop.
type BreakNode struct {
	id     string
	loopID string
}

// NewBreakNode creates a new loop break node.
func NewBreakNode(id string, config map[string]any) (*BreakNode, error) {
	loopID, _ := config["loop"].(string)

	return &BreakNode{id: id, loopID: loopID}, nil
}

// ID returns the node ID.
func (n *BreakNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *BreakNode) Kind() models.NodeKind {
	return models.NodeKindLoopBreak
}

// LoopID returns the targeted loop node id, empty for the innermost loop.
func (n *BreakNode) LoopID() string {
	return n.loopID
}
