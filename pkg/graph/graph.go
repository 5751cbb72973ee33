// Package graph converts a workflow definition into a traversable DAG and
// performs structural validation.
package graph

import (
	"fmt"
	"sort"

	"github.com/relayflow/relay/pkg/models"
)

// ValidationIssue is one error or warning found during validation.
type ValidationIssue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	NodeIDs []string `json:"node_ids,omitempty"`
}

// ValidationResult reports the outcome of structural validation.
// Errors block publishing; warnings do not.
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(code, message string, nodeIDs ...string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Message: message, NodeIDs: nodeIDs})
	r.IsValid = false
}

func (r *ValidationResult) addWarning(code, message string, nodeIDs ...string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Code: code, Message: message, NodeIDs: nodeIDs})
}

// Graph is the traversable form of a workflow definition.
type Graph struct {
	Definition *models.WorkflowDefinition
	Outgoing   map[string][]*models.Connection // source node ID → outgoing connections, in definition order
	Incoming   map[string][]*models.Connection // target node ID → incoming connections, in definition order
}

// OutgoingFrom returns the enabled connections leaving the given port of a node.
func (g *Graph) OutgoingFrom(nodeID, port string) []*models.Connection {
	var out []*models.Connection

	for _, conn := range g.Outgoing[nodeID] {
		if conn.Enabled && conn.SourcePort == port {
			out = append(out, conn)
		}
	}

	return out
}

// IncomingTo returns the enabled connections arriving at a node.
func (g *Graph) IncomingTo(nodeID string) []*models.Connection {
	var in []*models.Connection

	for _, conn := range g.Incoming[nodeID] {
		if conn.Enabled {
			in = append(in, conn)
		}
	}

	return in
}

// Build converts a definition into a Graph and validates it. The returned
// result is deterministic: validating the same definition twice yields an
// identical outcome.
func Build(def *models.WorkflowDefinition) (*Graph, *ValidationResult) {
	result := &ValidationResult{IsValid: true}

	g := &Graph{
		Definition: def,
		Outgoing:   make(map[string][]*models.Connection, len(def.Nodes)),
		Incoming:   make(map[string][]*models.Connection, len(def.Nodes)),
	}

	validateNodes(def, result)
	validateConnections(def, g, result)
	validateTriggers(def, g, result)
	validateTerminals(def, result)
	detectCycles(def, g, result)
	warnOrphans(def, g, result)

	return g, result
}

func validateNodes(def *models.WorkflowDefinition, result *ValidationResult) {
	for id, node := range def.Nodes {
		if node == nil {
			result.addError("node_nil", fmt.Sprintf("node %s has no specification", id), id)

			continue
		}

		if node.ID != id {
			result.addError("node_id_mismatch",
				fmt.Sprintf("node key %s does not match node id %s", id, node.ID), id)
		}

		if !node.Kind.Valid() {
			result.addError("node_unknown_type",
				fmt.Sprintf("node %s has unknown type %q", id, node.Kind), id)
		}
	}
}

func validateConnections(def *models.WorkflowDefinition, g *Graph, result *ValidationResult) {
	for _, conn := range def.Connections {
		source, sourceOK := def.Nodes[conn.SourceNode]
		if !sourceOK {
			result.addError("connection_source_missing",
				fmt.Sprintf("connection %s references missing source node %s", conn.ID, conn.SourceNode))
		}

		target, targetOK := def.Nodes[conn.TargetNode]
		if !targetOK {
			result.addError("connection_target_missing",
				fmt.Sprintf("connection %s references missing target node %s", conn.ID, conn.TargetNode))
		}

		if sourceOK && source != nil && !portValidForKind(source.Kind, conn.SourcePort, false) {
			result.addError("connection_invalid_port",
				fmt.Sprintf("connection %s uses output port %q which is not valid for node type %s",
					conn.ID, conn.SourcePort, source.Kind), conn.SourceNode)
		}

		if targetOK && target != nil && !portValidForKind(target.Kind, conn.TargetPort, true) {
			result.addError("connection_invalid_port",
				fmt.Sprintf("connection %s uses input port %q which is not valid for node type %s",
					conn.ID, conn.TargetPort, target.Kind), conn.TargetNode)
		}

		if sourceOK && targetOK {
			g.Outgoing[conn.SourceNode] = append(g.Outgoing[conn.SourceNode], conn)
			g.Incoming[conn.TargetNode] = append(g.Incoming[conn.TargetNode], conn)
		}
	}
}

func validateTriggers(def *models.WorkflowDefinition, g *Graph, result *ValidationResult) {
	triggers := def.TriggerNodes()
	if len(triggers) == 0 {
		result.addError("no_trigger", "workflow has no trigger node")

		return
	}

	for _, trigger := range triggers {
		if len(g.Incoming[trigger.ID]) > 0 {
			result.addError("trigger_has_input",
				fmt.Sprintf("trigger node %s must not have incoming connections", trigger.ID), trigger.ID)
		}
	}
}

func validateTerminals(def *models.WorkflowDefinition, result *ValidationResult) {
	if len(def.TerminalNodes()) == 0 {
		result.addError("no_terminal", "workflow has no terminal (flow end) node")
	}
}

// color values for the cycle-detecting DFS.
const (
	white = iota // unvisited
	gray         // on the current DFS stack
	black        // fully explored
)

// detectCycles runs a three-color DFS; a back edge to a gray node reports a
// cycle error naming every node on it.
func detectCycles(def *models.WorkflowDefinition, g *Graph, result *ValidationResult) {
	colors := make(map[string]int, len(def.Nodes))
	stack := make([]string, 0, len(def.Nodes))

	// Deterministic visit order keeps validation idempotent.
	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	var visit func(id string)

	visit = func(id string) {
		colors[id] = gray
		stack = append(stack, id)

		for _, conn := range g.Outgoing[id] {
			next := conn.TargetNode

			switch colors[next] {
			case white:
				visit(next)
			case gray:
				// Back edge: every node from next to the top of the stack is on the cycle.
				cycle := extractCycle(stack, next)
				result.addError("cycle",
					fmt.Sprintf("workflow contains a cycle: %v", cycle), cycle...)
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
	}

	for _, id := range ids {
		if colors[id] == white {
			visit(id)
		}
	}
}

func extractCycle(stack []string, entry string) []string {
	for i, id := range stack {
		if id == entry {
			cycle := make([]string, len(stack)-i)
			copy(cycle, stack[i:])

			return cycle
		}
	}

	return []string{entry}
}

// warnOrphans flags nodes with no incoming edge that are not triggers.
// Orphans are warnings, not errors.
func warnOrphans(def *models.WorkflowDefinition, g *Graph, result *ValidationResult) {
	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		node := def.Nodes[id]
		if node == nil || node.Kind.Category() == models.CategoryTrigger {
			continue
		}

		if len(g.Incoming[id]) == 0 {
			result.addWarning("orphan_node",
				fmt.Sprintf("node %s is unreachable: no incoming connection", id), id)
		}
	}
}
