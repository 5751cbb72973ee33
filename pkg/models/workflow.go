// Package models defines the core domain models for node-based workflow automation.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration marshals as a human-readable string ("5m", "30s") and accepts
// either a string or a number of nanoseconds when decoding.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}

		*d = Duration(parsed)

		return nil
	case float64:
		*d = Duration(v)

		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Published, version-pinned, executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// ExecutionLimits bound a single execution of a workflow. Unset values fall
// back to the engine defaults. MaxRetries is a pointer so an explicit zero
// (never retry) is distinguishable from unset.
type ExecutionLimits struct {
	Timeout           Duration `json:"timeout,omitempty"`
	MaxRetries        *int     `json:"max_retries,omitempty"`
	MaxParallel       int      `json:"max_parallel,omitempty"`
	MaxOperations     int      `json:"max_operations,omitempty"`
	MaxLoopIterations int      `json:"max_loop_iterations,omitempty"`
	MaxLoopDepth      int      `json:"max_loop_depth,omitempty"`
}

// Retries builds the MaxRetries value for an ExecutionLimits literal.
func Retries(n int) *int {
	return &n
}

// WorkflowDefinition is a typed graph of nodes and connections. Once a
// definition is published its version is pinned and the definition is
// immutable to every execution that references it.
type WorkflowDefinition struct {
	ID          string               `json:"id"          validate:"required"`
	Name        string               `json:"name"        validate:"required,min=3"`
	Version     int                  `json:"version"     validate:"gte=0"`
	Status      WorkflowStatus       `json:"status"      validate:"required,oneof=draft active archived"`
	Nodes       map[string]*NodeSpec `json:"nodes"       validate:"required,min=1"`
	Connections []*Connection        `json:"connections"`
	Variables   map[string]any       `json:"global_variables,omitempty"`
	Limits      ExecutionLimits      `json:"limits,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	PublishedAt *time.Time           `json:"published_at,omitempty"`
}

// TriggerNodes returns the trigger nodes of the definition in no particular order.
func (w *WorkflowDefinition) TriggerNodes() []*NodeSpec {
	var triggers []*NodeSpec

	for _, node := range w.Nodes {
		if node.Kind.Category() == CategoryTrigger {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// TerminalNodes returns the flow end nodes of the definition.
func (w *WorkflowDefinition) TerminalNodes() []*NodeSpec {
	var terminals []*NodeSpec

	for _, node := range w.Nodes {
		if node.Kind == NodeKindFlowEnd {
			terminals = append(terminals, node)
		}
	}

	return terminals
}
