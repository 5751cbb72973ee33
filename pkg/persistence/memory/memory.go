// Package memory provides an in-memory persistence implementation used by
// tests and throwaway environments.
package memory

import (
	"context"
	"sync"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
)

// Persistence keeps all state in process memory.
type Persistence struct {
	mu         sync.RWMutex
	workflows  map[string]*models.WorkflowDefinition
	executions map[string]*models.ExecutionResult
	nodeStates map[string][]*models.NodeExecutionState
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.WorkflowDefinition),
		executions: make(map[string]*models.ExecutionResult),
		nodeStates: make(map[string][]*models.NodeExecutionState),
	}
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.WorkflowDefinition, 0, len(p.workflows))
	for _, workflow := range p.workflows {
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (p *Persistence) PublishedWorkflow(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.Status != models.WorkflowStatusActive {
		return nil, persistence.NewWorkflowError("PublishedWorkflow", id, persistence.ErrPublishedWorkflowNotFound)
	}

	return workflow, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.WorkflowDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[workflow.ID] = workflow

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(p.workflows, id)

	return nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.ExecutionResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions[execution.ExecutionID] = execution

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.ExecutionResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (p *Persistence) AppendNodeState(_ context.Context, executionID string, state *models.NodeExecutionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nodeStates[executionID] = append(p.nodeStates[executionID], state)

	return nil
}

func (p *Persistence) NodeStates(_ context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byNode := make(map[string]int)

	var states []*models.NodeExecutionState

	for _, state := range p.nodeStates[executionID] {
		if i, seen := byNode[state.NodeID]; seen {
			states[i] = state

			continue
		}

		byNode[state.NodeID] = len(states)
		states = append(states, state)
	}

	return states, nil
}

func (p *Persistence) IncompleteExecutions(_ context.Context) ([]*models.ExecutionResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var incomplete []*models.ExecutionResult

	for _, execution := range p.executions {
		if !execution.Status.Terminal() {
			incomplete = append(incomplete, execution)
		}
	}

	return incomplete, nil
}
