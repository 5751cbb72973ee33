// Package models defines core node-based workflow models for graph execution.
package models

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// NodeCategory groups node kinds into the six families the engine understands.
type NodeCategory string

const (
	CategoryTrigger   NodeCategory = "trigger"
	CategoryCondition NodeCategory = "condition"
	CategoryAction    NodeCategory = "action"
	CategoryData      NodeCategory = "data"
	CategoryLoop      NodeCategory = "loop"
	CategoryFlow      NodeCategory = "flow"
)

// NodeKind is the closed set of node types. The executor dispatches with an
// exhaustive switch over this set; adding a kind is an enumeration change,
// not a runtime registration.
type NodeKind string

const (
	NodeKindTriggerChatCommand NodeKind = "trigger:chat_command"
	NodeKindTriggerWebhook     NodeKind = "trigger:webhook"
	NodeKindTriggerSchedule    NodeKind = "trigger:schedule"
	NodeKindConditionIf        NodeKind = "condition:if"
	NodeKindConditionSwitch    NodeKind = "condition:switch"
	NodeKindDataTransform      NodeKind = "data:transform"
	NodeKindLoopForEach        NodeKind = "loop:foreach"
	NodeKindLoopWhile          NodeKind = "loop:while"
	NodeKindLoopBreak          NodeKind = "loop:break"
	NodeKindActionModule       NodeKind = "action:module"
	NodeKindActionWebhook      NodeKind = "action:webhook"
	NodeKindActionNotify       NodeKind = "action:notify"
	NodeKindActionDelay        NodeKind = "action:delay"
	NodeKindFlowParallel       NodeKind = "flow:parallel"
	NodeKindFlowMerge          NodeKind = "flow:merge"
	NodeKindFlowEnd            NodeKind = "flow:end"
)

// AllNodeKinds lists every recognized kind, used by validation.
var AllNodeKinds = []NodeKind{
	NodeKindTriggerChatCommand,
	NodeKindTriggerWebhook,
	NodeKindTriggerSchedule,
	NodeKindConditionIf,
	NodeKindConditionSwitch,
	NodeKindDataTransform,
	NodeKindLoopForEach,
	NodeKindLoopWhile,
	NodeKindLoopBreak,
	NodeKindActionModule,
	NodeKindActionWebhook,
	NodeKindActionNotify,
	NodeKindActionDelay,
	NodeKindFlowParallel,
	NodeKindFlowMerge,
	NodeKindFlowEnd,
}

// Category returns the family a node kind belongs to.
func (k NodeKind) Category() NodeCategory {
	prefix, _, _ := strings.Cut(string(k), ":")

	return NodeCategory(prefix)
}

// Valid reports whether the kind is a member of the closed set.
func (k NodeKind) Valid() bool {
	for _, known := range AllNodeKinds {
		if k == known {
			return true
		}
	}

	return false
}

// NodeSpec describes one node instance in a workflow definition.
// Position is builder UI metadata and has no effect on execution.
type NodeSpec struct {
	ID        string         `json:"id"    validate:"required"`
	Kind      NodeKind       `json:"kind"  validate:"required"`
	Label     string         `json:"label"`
	Config    map[string]any `json:"config,omitempty"`
	Enabled   bool           `json:"enabled"`
	PositionX int            `json:"position_x,omitempty"`
	PositionY int            `json:"position_y,omitempty"`
}

// UnmarshalJSON defaults enabled to true when the document omits it; only an
// explicit false disables a node.
func (n *NodeSpec) UnmarshalJSON(data []byte) error {
	type alias NodeSpec

	aux := struct {
		Enabled *bool `json:"enabled"`
		*alias
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	n.Enabled = aux.Enabled == nil || *aux.Enabled

	return nil
}

// Connection routes control and data from a source node port to a target
// node port. A guard expression, when present, must evaluate truthy for the
// connection to carry an activation.
type Connection struct {
	ID         string `json:"id"`
	SourceNode string `json:"source_node" validate:"required"`
	SourcePort string `json:"source_port" validate:"required"`
	TargetNode string `json:"target_node" validate:"required"`
	TargetPort string `json:"target_port" validate:"required"`
	Enabled    bool   `json:"enabled"`
	Guard      string `json:"guard,omitempty"`
}

// UnmarshalJSON defaults enabled to true when the document omits it.
func (c *Connection) UnmarshalJSON(data []byte) error {
	type alias Connection

	aux := struct {
		Enabled *bool `json:"enabled"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.Enabled = aux.Enabled == nil || *aux.Enabled

	return nil
}

// NodeResult is the payload a node emits on one of its output ports.
type NodeResult struct {
	NodeID    string         `json:"node_id"`
	Data      map[string]any `json:"data"`
	Status    NodeStatus     `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status is a final node state.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// Node is the execution contract every concrete node type implements.
// Execute returns the activated output ports with their payloads; failures a
// node can describe are routed to its "error" port, never raised past the
// executor boundary.
type Node interface {
	ID() string
	Kind() NodeKind
	Execute(ctx context.Context, ec *ExecutionContext, inputs map[string]NodeResult) (map[string]NodeResult, error)
	InputPorts() []InputPort
	OutputPorts() []OutputPort
}
