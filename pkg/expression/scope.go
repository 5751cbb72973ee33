package expression

import (
	"github.com/relayflow/relay/pkg/models"
)

// Scope holds all data visible to an expression. It is a read-only view built
// from the execution context; evaluating an expression never mutates it.
type Scope struct {
	Variables map[string]any
	Trigger   map[string]any
	Nodes     map[string]any
	Execution map[string]any
	Input     map[string]any
	Item      any
	Index     int
	InLoop    bool
}

// NewScope builds the expression scope for the given execution context.
// Inside a loop the innermost iteration's item and index are bound.
func NewScope(ec *models.ExecutionContext) *Scope {
	scope := &Scope{
		Variables: ec.VariablesSnapshot(),
		Trigger:   ec.TriggerData,
		Nodes:     make(map[string]any),
		Execution: map[string]any{
			"id":          ec.ID,
			"workflow_id": ec.WorkflowID,
			"version":     ec.WorkflowVersion,
		},
	}

	for nodeID, result := range ec.NodeResultsSnapshot() {
		scope.Nodes[nodeID] = result.Data
	}

	if loop, ok := ec.CurrentLoopScope(); ok {
		scope.Item = loop.Item
		scope.Index = loop.Index
		scope.InLoop = true
	}

	return scope
}

// env lays the scope out as the expression environment. Variables are bound
// both bare ({{username}}) and under the variables namespace; the reserved
// namespace names win on a clash. Loop bindings are present only when inside
// a loop; elsewhere item and index resolve to nil like any unknown name.
func (s *Scope) env() map[string]any {
	env := make(map[string]any, len(s.Variables)+8)

	for name, value := range s.Variables {
		env[name] = value
	}

	env["variables"] = s.Variables
	env["trigger"] = s.Trigger
	env["nodes"] = s.Nodes
	env["execution"] = s.Execution

	if s.Input != nil {
		env["input"] = s.Input
	}

	if s.InLoop {
		env["item"] = s.Item
		env["index"] = s.Index
	}

	return env
}
