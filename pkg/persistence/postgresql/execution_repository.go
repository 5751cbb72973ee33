package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
)

// ExecutionRepository stores execution records and their append-only node
// state log.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save upserts the execution snapshot.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.ExecutionResult) error {
	record, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ExecutionID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, workflow_version, status, started_at, finished_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			record = EXCLUDED.record
	`, execution.ExecutionID, execution.WorkflowID, execution.WorkflowVersion,
		string(execution.Status), execution.StartedAt, execution.FinishedAt, record)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ExecutionID, err)
	}

	return nil
}

// ByID returns the execution snapshot for the id.
func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.ExecutionResult, error) {
	var raw []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT record FROM executions WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	var execution models.ExecutionResult
	if err := json.Unmarshal(raw, &execution); err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return &execution, nil
}

// AppendNodeState appends one node state row for the execution.
func (r *ExecutionRepository) AppendNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeState", executionID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO execution_node_states (execution_id, node_id, state)
		VALUES ($1, $2, $3)
	`, executionID, state.NodeID, raw)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeState", executionID, err)
	}

	return nil
}

// NodeStates returns the node states in append order, keeping only the
// latest row per node.
func (r *ExecutionRepository) NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state FROM execution_node_states
		WHERE execution_id = $1
		ORDER BY id
	`, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}
	defer rows.Close()

	byNode := make(map[string]int)

	var states []*models.NodeExecutionState

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, persistence.NewExecutionError("NodeStates", executionID, err)
		}

		var state models.NodeExecutionState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, persistence.NewExecutionError("NodeStates", executionID, err)
		}

		if i, seen := byNode[state.NodeID]; seen {
			states[i] = &state

			continue
		}

		byNode[state.NodeID] = len(states)
		states = append(states, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}

	return states, nil
}

// Incomplete returns executions whose status is not terminal.
func (r *ExecutionRepository) Incomplete(ctx context.Context) ([]*models.ExecutionResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record FROM executions
		WHERE status IN ($1, $2)
		ORDER BY started_at
	`, string(models.ExecutionStatusCreated), string(models.ExecutionStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.ExecutionResult

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}

		var execution models.ExecutionResult
		if err := json.Unmarshal(raw, &execution); err != nil {
			return nil, fmt.Errorf("failed to decode execution record: %w", err)
		}

		executions = append(executions, &execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}
