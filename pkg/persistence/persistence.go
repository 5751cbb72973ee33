// Package persistence provides the storage abstraction for workflow
// definitions and execution records.
package persistence

import (
	"context"

	"github.com/relayflow/relay/pkg/models"
)

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.WorkflowDefinition, error)
	WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// PublishedWorkflow returns the active definition for the id. Published
	// definitions are frozen: running executions keep the version they
	// started with.
	PublishedWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records. Node states are appended
// individually as they finish, so a partially executed workflow is
// recoverable after a crash.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.ExecutionResult) error
	ExecutionByID(ctx context.Context, id string) (*models.ExecutionResult, error)
	AppendNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error
	NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error)
	// IncompleteExecutions returns executions whose status is not terminal,
	// for crash recovery on startup.
	IncompleteExecutions(ctx context.Context) ([]*models.ExecutionResult, error)
}

type Persistence interface {
	WorkflowRepository
	ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
