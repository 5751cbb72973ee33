package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
)

// ExecutionRepository stores execution records under <root>/executions. Each
// execution has a snapshot file <id>.json and an append-only node state log
// <id>.states.jsonl written one state per line.
type ExecutionRepository struct {
	dir string
	mu  sync.Mutex
}

// NewExecutionRepository creates an execution repository under the root directory.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

// Save writes the execution snapshot.
func (r *ExecutionRepository) Save(_ context.Context, execution *models.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, workflowDirPerm); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ExecutionID, err)
	}

	return writeFileAtomic(r.snapshotPath(execution.ExecutionID), data)
}

// ByID returns the stored execution snapshot.
func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read(r.snapshotPath(id), id)
}

// AppendNodeState appends one node state to the execution's state log.
func (r *ExecutionRepository) AppendNodeState(_ context.Context, executionID string, state *models.NodeExecutionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, workflowDirPerm); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeState", executionID, err)
	}

	file, err := os.OpenFile(r.statesPath(executionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeState", executionID, err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return persistence.NewExecutionError("AppendNodeState", executionID, err)
	}

	return file.Sync()
}

// NodeStates returns the recorded node states in append order. A node that
// was retried or re-recorded appears once with its latest state.
func (r *ExecutionRepository) NodeStates(_ context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.Open(r.statesPath(executionID))
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}
	defer file.Close()

	byNode := make(map[string]int)

	var states []*models.NodeExecutionState

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var state models.NodeExecutionState
		if err := json.Unmarshal(line, &state); err != nil {
			return nil, persistence.NewExecutionError("NodeStates", executionID, err)
		}

		if i, seen := byNode[state.NodeID]; seen {
			states[i] = &state

			continue
		}

		byNode[state.NodeID] = len(states)
		states = append(states, &state)
	}

	if err := scanner.Err(); err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}

	return states, nil
}

// Incomplete returns executions whose status is not terminal.
func (r *ExecutionRepository) Incomplete(_ context.Context) ([]*models.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	var incomplete []*models.ExecutionResult

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".states.jsonl") {
			continue
		}

		id := strings.TrimSuffix(name, ".json")

		execution, err := r.read(filepath.Join(r.dir, name), id)
		if err != nil {
			return nil, err
		}

		if !execution.Status.Terminal() {
			incomplete = append(incomplete, execution)
		}
	}

	return incomplete, nil
}

func (r *ExecutionRepository) read(path, id string) (*models.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	var execution models.ExecutionResult
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) snapshotPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *ExecutionRepository) statesPath(id string) string {
	return filepath.Join(r.dir, id+".states.jsonl")
}
