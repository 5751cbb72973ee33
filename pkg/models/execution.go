package models

import (
	"sync"
	"sync/atomic"
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow execution.
// Terminal states are never left once entered.
type ExecutionStatus string

const (
	ExecutionStatusCreated   ExecutionStatus = "created"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimedOut:
		return true
	default:
		return false
	}
}

// LoopScope holds the variables bound for one loop iteration.
type LoopScope struct {
	LoopID string `json:"loop_id"`
	Item   any    `json:"item"`
	Index  int    `json:"index"`
}

// NodeExecutionState records the lifecycle of one node within an execution.
type NodeExecutionState struct {
	NodeID     string         `json:"node_id"`
	Status     NodeStatus     `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	OutputPort string         `json:"output_port,omitempty"`
	Logs       []string       `json:"logs,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
}

// ExecutionContext is the mutable state of one workflow run. The engine may
// mutate it from concurrent branch goroutines, so all shared mutation goes
// through the locked accessors. The loop scope stack is branch-local: each
// concurrent branch works on its own Branch copy and owns its stack alone.
type ExecutionContext struct {
	ID              string
	WorkflowID      string
	WorkflowVersion int
	TriggerNodeID   string
	TriggerData     map[string]any
	Variables       map[string]any
	NodeResults     map[string]NodeResult
	NodeStates      map[string]*NodeExecutionState
	Metadata        map[string]any
	StartedAt       time.Time

	shared     *executionShared
	loopScopes []LoopScope
}

// executionShared is the state all Branch copies point at.
type executionShared struct {
	mu         sync.Mutex
	path       []string
	cancelled  atomic.Bool
	operations atomic.Int64
}

// NewExecutionContext creates an execution context for one run of the given
// workflow version.
func NewExecutionContext(id, workflowID string, version int, triggerData map[string]any, variables map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}

	return &ExecutionContext{
		ID:              id,
		WorkflowID:      workflowID,
		WorkflowVersion: version,
		TriggerData:     triggerData,
		Variables:       vars,
		NodeResults:     make(map[string]NodeResult),
		NodeStates:      make(map[string]*NodeExecutionState),
		Metadata:        make(map[string]any),
		StartedAt:       time.Now().UTC(),
		shared:          &executionShared{},
	}
}

// Branch returns a copy for a concurrent branch. Variables, results, path and
// the cancellation flag stay shared; only the loop scope stack is private, so
// a loop in one branch never leaks item/index bindings into a sibling.
func (ec *ExecutionContext) Branch() *ExecutionContext {
	branch := *ec
	branch.loopScopes = append([]LoopScope(nil), ec.loopScopes...)

	return &branch
}

// RecordResult stores a node's output and appends the node to the execution path.
func (ec *ExecutionContext) RecordResult(nodeID string, result NodeResult) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	ec.NodeResults[nodeID] = result
	ec.shared.path = append(ec.shared.path, nodeID)
}

// SetNodeState stores the execution state for a node.
func (ec *ExecutionContext) SetNodeState(state *NodeExecutionState) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	ec.NodeStates[state.NodeID] = state
}

// NodeState returns the recorded state for a node, if any.
func (ec *ExecutionContext) NodeState(nodeID string) (*NodeExecutionState, bool) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	state, ok := ec.NodeStates[nodeID]

	return state, ok
}

// SetVariable writes a variable into the execution scope.
func (ec *ExecutionContext) SetVariable(name string, value any) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	ec.Variables[name] = value
}

// PushLoopScope enters a nested loop iteration scope and returns the new
// depth. The stack is branch-local, owned by the calling goroutine.
func (ec *ExecutionContext) PushLoopScope(scope LoopScope) int {
	ec.loopScopes = append(ec.loopScopes, scope)

	return len(ec.loopScopes)
}

// PopLoopScope leaves the innermost loop iteration scope.
func (ec *ExecutionContext) PopLoopScope() {
	if len(ec.loopScopes) > 0 {
		ec.loopScopes = ec.loopScopes[:len(ec.loopScopes)-1]
	}
}

// CurrentLoopScope returns the innermost loop scope, if inside a loop.
func (ec *ExecutionContext) CurrentLoopScope() (LoopScope, bool) {
	if len(ec.loopScopes) == 0 {
		return LoopScope{}, false
	}

	return ec.loopScopes[len(ec.loopScopes)-1], true
}

// LoopDepth returns the current loop nesting depth.
func (ec *ExecutionContext) LoopDepth() int {
	return len(ec.loopScopes)
}

// Cancel requests cooperative cancellation; the engine observes the flag
// between node executions.
func (ec *ExecutionContext) Cancel() {
	ec.shared.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (ec *ExecutionContext) Cancelled() bool {
	return ec.shared.cancelled.Load()
}

// CountOperation increments the cumulative operation counter and returns the
// new total.
func (ec *ExecutionContext) CountOperation() int64 {
	return ec.shared.operations.Add(1)
}

// Operations returns the cumulative operation count so far.
func (ec *ExecutionContext) Operations() int64 {
	return ec.shared.operations.Load()
}

// VariablesSnapshot returns a shallow copy of the variable scope.
func (ec *ExecutionContext) VariablesSnapshot() map[string]any {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	snapshot := make(map[string]any, len(ec.Variables))
	for k, v := range ec.Variables {
		snapshot[k] = v
	}

	return snapshot
}

// NodeResultsSnapshot returns a shallow copy of the recorded node results.
func (ec *ExecutionContext) NodeResultsSnapshot() map[string]NodeResult {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	snapshot := make(map[string]NodeResult, len(ec.NodeResults))
	for id, result := range ec.NodeResults {
		snapshot[id] = result
	}

	return snapshot
}

// PathSnapshot returns a copy of the ordered execution path so far.
func (ec *ExecutionContext) PathSnapshot() []string {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	return append([]string(nil), ec.shared.path...)
}

// ExecutionResult is the write-once record of a finished (or in-flight,
// when persisted for recovery) execution.
type ExecutionResult struct {
	ExecutionID     string                `json:"execution_id"`
	WorkflowID      string                `json:"workflow_id"`
	WorkflowVersion int                   `json:"workflow_version"`
	Status          ExecutionStatus       `json:"status"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
	TriggerData     map[string]any        `json:"trigger_data,omitempty"`
	Variables       map[string]any        `json:"variables,omitempty"`
	Output          map[string]any        `json:"output,omitempty"`
	Path            []string              `json:"execution_path,omitempty"`
	NodeResults     map[string]NodeResult `json:"node_results,omitempty"`
	ErrorNodeID     string                `json:"error_node_id,omitempty"`
	ErrorMessage    string                `json:"error_message,omitempty"`
}
