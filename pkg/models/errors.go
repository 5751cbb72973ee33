package models

import (
	"errors"
	"fmt"
)

// Resource-guard failures. These abort an execution immediately and are never
// auto-retried: they signal a runaway or misconfigured workflow.
var (
	ErrLoopLimitExceeded      = errors.New("loop iteration limit exceeded")
	ErrLoopDepthExceeded      = errors.New("loop nesting depth exceeded")
	ErrOperationLimitExceeded = errors.New("operation limit exceeded")
	ErrExecutionTimeout       = errors.New("execution timeout exceeded")
	ErrParallelLimitExceeded  = errors.New("parallel branch limit exceeded")

	// ErrCancellationRequested marks cooperative cancellation. It moves the
	// execution to cancelled, not failed.
	ErrCancellationRequested = errors.New("cancellation requested")
)

// GuardFailure reports whether err is one of the resource-guard failures.
func GuardFailure(err error) bool {
	return errors.Is(err, ErrLoopLimitExceeded) ||
		errors.Is(err, ErrLoopDepthExceeded) ||
		errors.Is(err, ErrOperationLimitExceeded) ||
		errors.Is(err, ErrExecutionTimeout) ||
		errors.Is(err, ErrParallelLimitExceeded)
}

// EvaluationError marks an expression or transform failure. It surfaces as a
// node failure and is retryable only per node policy.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of %q failed: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// NewEvaluationError wraps err as an evaluation failure for the expression.
func NewEvaluationError(expression string, err error) *EvaluationError {
	return &EvaluationError{Expression: expression, Err: err}
}

// NodeExecutionError marks a runtime node or gateway failure, subject to the
// engine's retry policy.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// NewNodeExecutionError wraps err as a node runtime failure.
func NewNodeExecutionError(nodeID string, err error) *NodeExecutionError {
	return &NodeExecutionError{NodeID: nodeID, Err: err}
}

// Retryable reports whether err may be retried under the node's retry budget.
// Guard failures and cancellation are never retried; everything else is left
// to the retry policy.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if GuardFailure(err) || errors.Is(err, ErrCancellationRequested) {
		return false
	}

	return true
}
