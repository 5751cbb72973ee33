package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/relayflow/relay/pkg/models"
)

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Workflows(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)

	if workflows := args.Get(0); workflows != nil {
		return workflows.([]*models.WorkflowDefinition), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockPersistence) WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)

	if definition := args.Get(0); definition != nil {
		return definition.(*models.WorkflowDefinition), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockPersistence) PublishedWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)

	if definition := args.Get(0); definition != nil {
		return definition.(*models.WorkflowDefinition), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockPersistence) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockPersistence) DeleteWorkflow(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) SaveExecution(ctx context.Context, execution *models.ExecutionResult) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) ExecutionByID(ctx context.Context, id string) (*models.ExecutionResult, error) {
	args := m.Called(ctx, id)

	if execution := args.Get(0); execution != nil {
		return execution.(*models.ExecutionResult), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockPersistence) AppendNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error {
	args := m.Called(ctx, executionID, state)

	return args.Error(0)
}

func (m *MockPersistence) NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	args := m.Called(ctx, executionID)

	if states := args.Get(0); states != nil {
		return states.([]*models.NodeExecutionState), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockPersistence) IncompleteExecutions(ctx context.Context) ([]*models.ExecutionResult, error) {
	args := m.Called(ctx)

	if executions := args.Get(0); executions != nil {
		return executions.([]*models.ExecutionResult), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
