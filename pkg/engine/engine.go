// Package engine executes published workflow definitions. It owns the
// execution lifecycle state machine, the per-execution resource budget and
// the process-wide execution concurrency ceiling.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/relayflow/relay/pkg/eventbus"
	"github.com/relayflow/relay/pkg/events"
	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/nodes/trigger"
	"github.com/relayflow/relay/pkg/otelhelper"
	"github.com/relayflow/relay/pkg/queue"
	"github.com/relayflow/relay/pkg/workflow"
)

// OverflowPolicy decides what happens to a trigger arriving while the engine
// is at its execution-concurrency ceiling.
type OverflowPolicy string

const (
	// OverflowReject refuses the trigger with ErrCapacityExceeded.
	OverflowReject OverflowPolicy = "reject"
	// OverflowQueue parks the trigger on the pending-execution queue.
	OverflowQueue OverflowPolicy = "queue"
)

var (
	// ErrCapacityExceeded reports a trigger refused at the concurrency ceiling.
	ErrCapacityExceeded = errors.New("execution capacity exceeded")
	// ErrTriggerMismatch reports trigger data no trigger node accepts.
	ErrTriggerMismatch = errors.New("no matching trigger node")
	// ErrExecutionNotRunning reports a cancel for an unknown execution.
	ErrExecutionNotRunning = errors.New("execution is not running")
)

// Config tunes one engine instance.
type Config struct {
	WorkerID       string
	MaxConcurrent  int
	OverflowPolicy OverflowPolicy
	// RetryBackoffBase is the base of the exponential retry delay.
	RetryBackoffBase float64
}

// Engine runs workflow executions against the persistence layer, gateway and
// event bus.
type Engine struct {
	config      Config
	logger      *slog.Logger
	repository  *workflow.Repository
	persistence ExecutionStore
	gw          gateway.Gateway
	eval        *expression.Evaluator
	bus         eventbus.EventPublisher
	pending     *queue.Queue
	tracer      trace.Tracer

	slots chan struct{}

	mu      sync.Mutex
	running map[string]*models.ExecutionContext
}

// ExecutionStore is the persistence surface the engine writes through.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, execution *models.ExecutionResult) error
	ExecutionByID(ctx context.Context, id string) (*models.ExecutionResult, error)
	AppendNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error
	NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error)
	IncompleteExecutions(ctx context.Context) ([]*models.ExecutionResult, error)
}

// New creates an engine. The pending queue may be nil when the overflow
// policy is reject.
func New(
	config Config,
	logger *slog.Logger,
	repository *workflow.Repository,
	store ExecutionStore,
	gw gateway.Gateway,
	bus eventbus.EventPublisher,
	pending *queue.Queue,
	tracer trace.Tracer,
) *Engine {
	if config.WorkerID == "" {
		config.WorkerID = uuid.New().String()
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 100
	}

	if config.OverflowPolicy == "" {
		config.OverflowPolicy = OverflowReject
	}

	if config.RetryBackoffBase <= 1 {
		config.RetryBackoffBase = 2
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("relay")
	}

	return &Engine{
		config:      config,
		logger:      logger.With("module", "engine", "worker_id", config.WorkerID),
		repository:  repository,
		persistence: store,
		gw:          gw,
		eval:        expression.NewEvaluator(expression.DefaultBudget),
		bus:         bus,
		pending:     pending,
		tracer:      tracer,
		slots:       make(chan struct{}, config.MaxConcurrent),
		running:     make(map[string]*models.ExecutionContext),
	}
}

// Submit starts an execution asynchronously. At the concurrency ceiling the
// trigger is queued or rejected per the overflow policy.
func (e *Engine) Submit(ctx context.Context, workflowID string, triggerData map[string]any) (string, bool, error) {
	published, err := e.repository.Published(ctx, workflowID)
	if err != nil {
		return "", false, err
	}

	triggerNodeID, err := e.matchTrigger(published.Definition, triggerData)
	if err != nil {
		return "", false, err
	}

	executionID := uuid.New().String()

	select {
	case e.slots <- struct{}{}:
	default:
		return e.overflow(ctx, executionID, workflowID, triggerData)
	}

	go func() {
		defer func() { <-e.slots }()

		// The submitting request's context ends with the HTTP response;
		// the execution keeps its own lifetime.
		runCtx := context.WithoutCancel(ctx)

		if _, err := e.execute(runCtx, published, executionID, triggerNodeID, triggerData); err != nil {
			e.logger.ErrorContext(runCtx, "Execution failed",
				"workflow_id", workflowID, "execution_id", executionID, "error", err)
		}
	}()

	return executionID, false, nil
}

// SubmitCommand routes a chat command to every published workflow with a
// matching chat command trigger.
func (e *Engine) SubmitCommand(ctx context.Context, command string, triggerData map[string]any) ([]string, error) {
	published, err := e.repository.PublishedAll(ctx)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(triggerData)+1)
	for k, v := range triggerData {
		data[k] = v
	}

	data["command"] = command

	var executionIDs []string

	for _, entry := range published {
		if _, err := e.matchTrigger(entry.Definition, data); err != nil {
			continue
		}

		executionID, _, err := e.Submit(ctx, entry.Definition.ID, data)
		if err != nil {
			return executionIDs, err
		}

		executionIDs = append(executionIDs, executionID)
	}

	return executionIDs, nil
}

// Execute runs one execution synchronously and returns its final record.
func (e *Engine) Execute(ctx context.Context, workflowID string, triggerData map[string]any) (*models.ExecutionResult, error) {
	published, err := e.repository.Published(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	triggerNodeID, err := e.matchTrigger(published.Definition, triggerData)
	if err != nil {
		return nil, err
	}

	return e.execute(ctx, published, uuid.New().String(), triggerNodeID, triggerData)
}

// Cancel requests cooperative cancellation of a running execution. The
// engine observes the request between node executions.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ec, ok := e.running[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotRunning, executionID)
	}

	ec.Cancel()

	return nil
}

// StartQueueDrainer feeds parked triggers back into the engine as slots free
// up. No-op without a pending queue.
func (e *Engine) StartQueueDrainer(ctx context.Context) {
	if e.pending == nil {
		return
	}

	e.pending.Drain(ctx, func(ctx context.Context, parked queue.PendingExecution) error {
		// Blocking acquire: the drainer waits for a free slot, which is the
		// backpressure the queue exists for.
		select {
		case e.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		published, err := e.repository.Published(ctx, parked.WorkflowID)
		if err != nil {
			<-e.slots

			return err
		}

		triggerNodeID, err := e.matchTrigger(published.Definition, parked.TriggerData)
		if err != nil {
			<-e.slots

			return err
		}

		go func() {
			defer func() { <-e.slots }()

			if _, err := e.execute(context.WithoutCancel(ctx), published, parked.ExecutionID, triggerNodeID, parked.TriggerData); err != nil {
				e.logger.ErrorContext(ctx, "Queued execution failed",
					"execution_id", parked.ExecutionID, "error", err)
			}
		}()

		return nil
	})
}

func (e *Engine) overflow(ctx context.Context, executionID, workflowID string, triggerData map[string]any) (string, bool, error) {
	if e.config.OverflowPolicy != OverflowQueue || e.pending == nil {
		return "", false, ErrCapacityExceeded
	}

	err := e.pending.Enqueue(ctx, queue.PendingExecution{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		TriggerData: triggerData,
	})
	if err != nil {
		return "", false, err
	}

	event := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, workflowID),
		ExecutionID: executionID,
		TriggerData: triggerData,
	}
	event.WorkerID = e.config.WorkerID

	e.publish(ctx, executionID, event)

	return executionID, true, nil
}

// matchTrigger finds the first enabled trigger node accepting the trigger
// data. Triggers are checked in kind order so webhook catch-alls do not
// shadow chat commands.
func (e *Engine) matchTrigger(definition *models.WorkflowDefinition, triggerData map[string]any) (string, error) {
	byKind := func(kind models.NodeKind) (string, bool) {
		for _, spec := range definition.TriggerNodes() {
			if !spec.Enabled || spec.Kind != kind {
				continue
			}

			node, err := buildTriggerNode(spec)
			if err != nil {
				continue
			}

			if node.Matches(triggerData) {
				return spec.ID, true
			}
		}

		return "", false
	}

	for _, kind := range []models.NodeKind{
		models.NodeKindTriggerChatCommand,
		models.NodeKindTriggerSchedule,
		models.NodeKindTriggerWebhook,
	} {
		if id, ok := byKind(kind); ok {
			return id, nil
		}
	}

	return "", ErrTriggerMismatch
}

type matcher interface {
	Matches(triggerData map[string]any) bool
}

func buildTriggerNode(spec *models.NodeSpec) (matcher, error) {
	switch spec.Kind {
	case models.NodeKindTriggerChatCommand:
		return trigger.NewChatCommandNode(spec.ID, spec.Config)
	case models.NodeKindTriggerWebhook:
		return trigger.NewWebhookNode(spec.ID, spec.Config)
	case models.NodeKindTriggerSchedule:
		return trigger.NewScheduleNode(spec.ID, spec.Config)
	default:
		return nil, fmt.Errorf("node %s is not a trigger", spec.ID)
	}
}

// execute owns one execution end to end: context creation, the lifecycle
// state machine, persistence and events.
func (e *Engine) execute(
	ctx context.Context,
	published *workflow.Published,
	executionID, triggerNodeID string,
	triggerData map[string]any,
) (*models.ExecutionResult, error) {
	definition := published.Definition

	ec := models.NewExecutionContext(executionID, definition.ID, definition.Version, triggerData, definition.Variables)
	ec.TriggerNodeID = triggerNodeID

	return e.drive(ctx, published, ec, nil)
}

// drive runs (or resumes) the traversal for an execution context. replay
// carries recorded results from a previous attempt; nil for fresh runs.
func (e *Engine) drive(
	ctx context.Context,
	published *workflow.Published,
	ec *models.ExecutionContext,
	replay map[string]replayedResult,
) (*models.ExecutionResult, error) {
	definition := published.Definition
	budget := models.NewResourceBudget(definition.Limits, ec.StartedAt)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, definition.ID),
		attribute.Int(otelhelper.WorkflowVersionKey, definition.Version),
		attribute.String(otelhelper.ExecutionIDKey, ec.ID),
	)
	defer span.End()

	runCtx, cancel := context.WithDeadline(ctx, budget.Deadline)
	defer cancel()

	e.track(ec)
	defer e.untrack(ec.ID)

	result := &models.ExecutionResult{
		ExecutionID:     ec.ID,
		WorkflowID:      definition.ID,
		WorkflowVersion: definition.Version,
		Status:          models.ExecutionStatusRunning,
		StartedAt:       ec.StartedAt,
		TriggerData:     ec.TriggerData,
	}

	if err := e.persistence.SaveExecution(runCtx, result); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	startedEvent := events.ExecutionStarted{
		BaseEvent:       events.NewBaseEvent(events.ExecutionStartedEvent, definition.ID),
		ExecutionID:     ec.ID,
		WorkflowVersion: definition.Version,
		TriggerNodeID:   ec.TriggerNodeID,
		TriggerData:     ec.TriggerData,
	}
	startedEvent.WorkerID = e.config.WorkerID
	e.publish(runCtx, ec.ID, startedEvent)

	rt, err := newRuntime(e, published, ec, budget, replay)
	if err != nil {
		return e.finish(ctx, result, ec, models.ExecutionStatusFailed, "", err)
	}

	runErr := rt.run(runCtx)

	status, errorNodeID := classify(runErr, rt)

	result.Output = rt.output()

	finalResult, finishErr := e.finish(ctx, result, ec, status, errorNodeID, runErr)
	if finishErr != nil {
		return finalResult, finishErr
	}

	if runErr != nil {
		otelhelper.SetError(span, runErr)
	}

	return finalResult, runErr
}

func classify(runErr error, rt *runtime) (models.ExecutionStatus, string) {
	switch {
	case runErr == nil:
		return models.ExecutionStatusCompleted, ""
	case errors.Is(runErr, models.ErrCancellationRequested):
		return models.ExecutionStatusCancelled, ""
	case errors.Is(runErr, models.ErrExecutionTimeout), errors.Is(runErr, context.DeadlineExceeded):
		return models.ExecutionStatusTimedOut, rt.lastNodeID()
	default:
		return models.ExecutionStatusFailed, rt.lastNodeID()
	}
}

// finish moves the execution to its terminal state, persists the final
// record and publishes the terminal event. Persistence runs on a detached
// context so a timed-out execution still gets recorded.
func (e *Engine) finish(
	ctx context.Context,
	result *models.ExecutionResult,
	ec *models.ExecutionContext,
	status models.ExecutionStatus,
	errorNodeID string,
	runErr error,
) (*models.ExecutionResult, error) {
	now := time.Now().UTC()
	duration := now.Sub(result.StartedAt).Milliseconds()

	result.Status = status
	result.FinishedAt = &now
	result.Variables = ec.VariablesSnapshot()
	result.Path = ec.PathSnapshot()
	result.NodeResults = ec.NodeResultsSnapshot()
	result.ErrorNodeID = errorNodeID

	if runErr != nil {
		result.ErrorMessage = runErr.Error()
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := e.persistence.SaveExecution(saveCtx, result); err != nil {
		e.logger.ErrorContext(saveCtx, "Failed to persist final execution state",
			"execution_id", result.ExecutionID, "error", err)

		return result, err
	}

	e.publishTerminal(saveCtx, result, duration, len(result.Path))

	return result, nil
}

func (e *Engine) publishTerminal(ctx context.Context, result *models.ExecutionResult, durationMs int64, nodesExecuted int) {
	base := events.NewBaseEvent(terminalEventType(result.Status), result.WorkflowID)
	base.WorkerID = e.config.WorkerID

	var event eventbus.Event

	switch result.Status {
	case models.ExecutionStatusCompleted:
		event = events.ExecutionCompleted{
			BaseEvent:     base,
			ExecutionID:   result.ExecutionID,
			DurationMs:    durationMs,
			NodesExecuted: nodesExecuted,
			Output:        result.Output,
		}
	case models.ExecutionStatusCancelled:
		event = events.ExecutionCancelled{
			BaseEvent:   base,
			ExecutionID: result.ExecutionID,
			DurationMs:  durationMs,
			Reason:      result.ErrorMessage,
		}
	case models.ExecutionStatusTimedOut:
		event = events.ExecutionTimeout{
			BaseEvent:   base,
			ExecutionID: result.ExecutionID,
			DurationMs:  durationMs,
			StuckNodeID: result.ErrorNodeID,
		}
	default:
		event = events.ExecutionFailed{
			BaseEvent:     base,
			ExecutionID:   result.ExecutionID,
			DurationMs:    durationMs,
			NodesExecuted: nodesExecuted,
			ErrorNodeID:   result.ErrorNodeID,
			Error:         result.ErrorMessage,
		}
	}

	e.publish(ctx, result.ExecutionID, event)
}

func terminalEventType(status models.ExecutionStatus) events.EventType {
	switch status {
	case models.ExecutionStatusCompleted:
		return events.ExecutionCompletedEvent
	case models.ExecutionStatusCancelled:
		return events.ExecutionCancelledEvent
	case models.ExecutionStatusTimedOut:
		return events.ExecutionTimeoutEvent
	default:
		return events.ExecutionFailedEvent
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) track(ec *models.ExecutionContext) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running[ec.ID] = ec
}

func (e *Engine) untrack(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.running, executionID)
}
