package engine

import (
	"context"
	"fmt"

	"github.com/relayflow/relay/pkg/models"
)

// Resume re-drives an interrupted execution. Nodes that reached a completed
// state before the interruption are replayed from their recorded results
// instead of re-executing, so external actions do not run twice.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.ExecutionResult, error) {
	record, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return record, nil
	}

	published, err := e.repository.Published(ctx, record.WorkflowID)
	if err != nil {
		return nil, err
	}

	// A definition published since the crash may have a different shape;
	// replaying old results against it is not sound.
	if published.Definition.Version != record.WorkflowVersion {
		return e.abandon(ctx, record, fmt.Sprintf(
			"workflow version changed during execution: ran v%d, published is v%d",
			record.WorkflowVersion, published.Definition.Version))
	}

	triggerNodeID, err := e.matchTrigger(published.Definition, record.TriggerData)
	if err != nil {
		return e.abandon(ctx, record, err.Error())
	}

	states, err := e.persistence.NodeStates(ctx, executionID)
	if err != nil {
		return nil, err
	}

	ec := models.NewExecutionContext(record.ExecutionID, record.WorkflowID, record.WorkflowVersion,
		record.TriggerData, published.Definition.Variables)
	ec.TriggerNodeID = triggerNodeID

	for name, value := range record.Variables {
		ec.SetVariable(name, value)
	}

	replay := make(map[string]replayedResult, len(states))

	for _, state := range states {
		ec.SetNodeState(state)

		if state.Status != models.NodeStatusCompleted || state.FinishedAt == nil {
			continue
		}

		port := state.OutputPort
		if port == "" {
			port = models.PortMain
		}

		replay[state.NodeID] = replayedResult{
			Result: models.NodeResult{
				NodeID:    state.NodeID,
				Data:      state.Output,
				Status:    state.Status,
				Timestamp: *state.FinishedAt,
			},
			Port: port,
		}
	}

	e.logger.InfoContext(ctx, "Resuming interrupted execution",
		"execution_id", executionID, "workflow_id", record.WorkflowID, "replayed_nodes", len(replay))

	return e.drive(ctx, published, ec, replay)
}

// RecoverIncomplete resumes every execution the store reports as interrupted.
// Called once at worker startup; returns the number of executions resumed.
func (e *Engine) RecoverIncomplete(ctx context.Context) (int, error) {
	incomplete, err := e.persistence.IncompleteExecutions(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0

	for _, record := range incomplete {
		select {
		case e.slots <- struct{}{}:
		case <-ctx.Done():
			return resumed, ctx.Err()
		}

		resumed++

		go func() {
			defer func() { <-e.slots }()

			if _, err := e.Resume(context.WithoutCancel(ctx), record.ExecutionID); err != nil {
				e.logger.ErrorContext(ctx, "Failed to resume execution",
					"execution_id", record.ExecutionID, "error", err)
			}
		}()
	}

	return resumed, nil
}

// abandon marks an unresumable execution failed without re-running it.
func (e *Engine) abandon(ctx context.Context, record *models.ExecutionResult, reason string) (*models.ExecutionResult, error) {
	ec := models.NewExecutionContext(record.ExecutionID, record.WorkflowID, record.WorkflowVersion,
		record.TriggerData, record.Variables)

	return e.finish(ctx, record, ec, models.ExecutionStatusFailed, "", fmt.Errorf("resume aborted: %s", reason))
}
