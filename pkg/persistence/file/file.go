// Package file provides file-based persistence for workflows and executions.
// Workflow definitions are one JSON file each; execution records are a JSON
// snapshot plus an append-only node state log, so a crash mid-execution
// loses at most the node in flight.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/relayflow/relay/pkg/models"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A file:// prefix on the path is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.TrimPrefix(root, "file://")

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. Nothing to release for file storage.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return fp.workflowRepo.All(ctx)
}

func (fp *Persistence) WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return fp.workflowRepo.ByID(ctx, id)
}

func (fp *Persistence) PublishedWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return fp.workflowRepo.Published(ctx, id)
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	return fp.workflowRepo.Save(ctx, workflow)
}

func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return fp.workflowRepo.Delete(ctx, id)
}

func (fp *Persistence) SaveExecution(ctx context.Context, execution *models.ExecutionResult) error {
	return fp.executionRepo.Save(ctx, execution)
}

func (fp *Persistence) ExecutionByID(ctx context.Context, id string) (*models.ExecutionResult, error) {
	return fp.executionRepo.ByID(ctx, id)
}

func (fp *Persistence) AppendNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error {
	return fp.executionRepo.AppendNodeState(ctx, executionID, state)
}

func (fp *Persistence) NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	return fp.executionRepo.NodeStates(ctx, executionID)
}

func (fp *Persistence) IncompleteExecutions(ctx context.Context) ([]*models.ExecutionResult, error) {
	return fp.executionRepo.Incomplete(ctx)
}
