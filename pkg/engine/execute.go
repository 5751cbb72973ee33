package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/relayflow/relay/pkg/events"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/otelhelper"
)

// replayedResult is a node outcome recovered from a previous attempt of the
// same execution. Replayed nodes are not re-executed on resume.
type replayedResult struct {
	Result models.NodeResult
	Port   string
}

// executeNode runs one executable node under the retry policy, persists its
// state transitions and publishes its lifecycle events.
func (rt *runtime) executeNode(
	ctx context.Context,
	ec *models.ExecutionContext,
	spec *models.NodeSpec,
	node models.Node,
	inputs map[string]models.NodeResult,
) (map[string]models.NodeResult, error) {
	if replayed, ok := rt.replay[spec.ID]; ok {
		ec.RecordResult(spec.ID, replayed.Result)

		return map[string]models.NodeResult{replayed.Port: replayed.Result}, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, rt.engine.tracer, "node.execute",
		attribute.String(otelhelper.NodeIDKey, spec.ID),
		attribute.String(otelhelper.NodeKindKey, string(spec.Kind)),
		attribute.String(otelhelper.ExecutionIDKey, rt.ec.ID),
	)
	defer span.End()

	var lastErr error

	for attempt := 0; attempt <= rt.budget.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := rt.waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		started := time.Now().UTC()

		rt.publishNodeStarted(ctx, spec, attempt)
		rt.persistState(ctx, &models.NodeExecutionState{
			NodeID:     spec.ID,
			Status:     models.NodeStatusRunning,
			StartedAt:  started,
			RetryCount: attempt,
		})

		outputs, err := node.Execute(ctx, ec, inputs)
		if err == nil {
			port, result := primaryOutput(spec.ID, outputs)

			ec.RecordResult(spec.ID, result)

			finished := time.Now().UTC()
			state := &models.NodeExecutionState{
				NodeID:     spec.ID,
				Status:     result.Status,
				StartedAt:  started,
				FinishedAt: &finished,
				Output:     result.Data,
				OutputPort: port,
				Error:      result.Error,
				RetryCount: attempt,
			}

			rt.ec.SetNodeState(state)
			rt.persistState(ctx, state)
			rt.publishNodeFinished(ctx, spec, result.Status, port, finished.Sub(started))

			return outputs, nil
		}

		lastErr = err

		willRetry := models.Retryable(err) && attempt < rt.budget.MaxRetries

		rt.publishNodeFailed(ctx, spec, err, attempt, willRetry)

		if !willRetry {
			break
		}

		rt.engine.logger.WarnContext(ctx, "Node failed, retrying",
			"execution_id", rt.ec.ID, "node_id", spec.ID, "attempt", attempt, "error", err)
	}

	otelhelper.SetError(span, lastErr)

	return nil, rt.failNode(ctx, ec, spec, lastErr)
}

// failNode records the terminal failed state. When the node has an error-port
// connection the failure is routed there instead of ending the execution.
func (rt *runtime) failNode(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, cause error) error {
	now := time.Now().UTC()

	failed := models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{"error": cause.Error()},
		Status:    models.NodeStatusFailed,
		Timestamp: now,
		Error:     cause.Error(),
	}

	ec.RecordResult(spec.ID, failed)

	state := &models.NodeExecutionState{
		NodeID:     spec.ID,
		Status:     models.NodeStatusFailed,
		StartedAt:  now,
		FinishedAt: &now,
		OutputPort: models.PortError,
		Error:      cause.Error(),
	}

	rt.ec.SetNodeState(state)
	rt.persistState(ctx, state)

	// Budget and cancellation errors always end the execution regardless of
	// error-port wiring.
	if models.GuardFailure(cause) || errors.Is(cause, models.ErrCancellationRequested) {
		return cause
	}

	if len(rt.g.OutgoingFrom(spec.ID, models.PortError)) > 0 {
		return rt.follow(ctx, ec, spec.ID, models.PortError, failed, nil)
	}

	if _, ok := cause.(*models.NodeExecutionError); ok {
		return cause
	}

	return models.NewNodeExecutionError(spec.ID, cause)
}

// primaryOutput picks the port carrying the node's result. Nodes emit on one
// port per activation.
func primaryOutput(nodeID string, outputs map[string]models.NodeResult) (string, models.NodeResult) {
	for port, result := range outputs {
		return port, result
	}

	return models.PortMain, models.NodeResult{
		NodeID:    nodeID,
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}
}

// waitBackoff sleeps the exponential retry delay for the given attempt,
// honouring cancellation and the execution deadline.
func (rt *runtime) waitBackoff(ctx context.Context, attempt int) error {
	delay := retryDelay(rt.engine.config.RetryBackoffBase, attempt)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return models.ErrExecutionTimeout
		case <-tick.C:
			if rt.ec.Cancelled() {
				return models.ErrCancellationRequested
			}
		}
	}
}

const maxRetryDelay = 30 * time.Second

// retryDelay computes base^attempt seconds, capped.
func retryDelay(base float64, attempt int) time.Duration {
	seconds := math.Pow(base, float64(attempt))

	delay := time.Duration(seconds * float64(time.Second))
	if delay > maxRetryDelay {
		return maxRetryDelay
	}

	return delay
}

func (rt *runtime) publishNodeStarted(ctx context.Context, spec *models.NodeSpec, attempt int) {
	event := events.NodeStarted{
		BaseEvent:   events.NewBaseEvent(events.NodeStartedEvent, rt.ec.WorkflowID),
		ExecutionID: rt.ec.ID,
		NodeID:      spec.ID,
		Kind:        string(spec.Kind),
		Attempt:     attempt,
	}
	event.WorkerID = rt.engine.config.WorkerID

	rt.engine.publish(ctx, rt.ec.ID, event)
}

func (rt *runtime) publishNodeFinished(ctx context.Context, spec *models.NodeSpec, status models.NodeStatus, port string, duration time.Duration) {
	event := events.NodeFinished{
		BaseEvent:   events.NewBaseEvent(events.NodeFinishedEvent, rt.ec.WorkflowID),
		ExecutionID: rt.ec.ID,
		NodeID:      spec.ID,
		Status:      status,
		OutputPort:  port,
		DurationMs:  duration.Milliseconds(),
	}
	event.WorkerID = rt.engine.config.WorkerID

	rt.engine.publish(ctx, rt.ec.ID, event)
}

func (rt *runtime) publishNodeFailed(ctx context.Context, spec *models.NodeSpec, cause error, attempt int, willRetry bool) {
	event := events.NodeFailed{
		BaseEvent:   events.NewBaseEvent(events.NodeFailedEvent, rt.ec.WorkflowID),
		ExecutionID: rt.ec.ID,
		NodeID:      spec.ID,
		Error:       cause.Error(),
		Attempt:     attempt,
		WillRetry:   willRetry,
	}
	event.WorkerID = rt.engine.config.WorkerID

	rt.engine.publish(ctx, rt.ec.ID, event)
}
