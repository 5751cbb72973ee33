package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/graph"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/nodes/flow"
	"github.com/relayflow/relay/pkg/nodes/loop"
	"github.com/relayflow/relay/pkg/workflow"
)

// runtime is the per-execution traversal state. Chains walk the graph depth
// first from the trigger; parallel branches run as goroutines on a Branch of
// the execution context and join at merge nodes.
type runtime struct {
	engine *Engine
	g      *graph.Graph
	def    *models.WorkflowDefinition
	ec     *models.ExecutionContext
	budget *models.ResourceBudget
	nodes  map[string]any

	mu       sync.Mutex
	replay   map[string]replayedResult
	arrivals map[string]map[string]mergeArrival
	breaks   map[string]bool
	out      map[string]any
	outSet   bool
	lastNode string
}

// mergeArrival is one branch result waiting at a merge join, keyed by the
// connection that delivered it.
type mergeArrival struct {
	port   string
	result models.NodeResult
}

func newRuntime(
	e *Engine,
	published *workflow.Published,
	ec *models.ExecutionContext,
	budget *models.ResourceBudget,
	replay map[string]replayedResult,
) (*runtime, error) {
	rt := &runtime{
		engine:   e,
		g:        published.Graph,
		def:      published.Definition,
		ec:       ec,
		budget:   budget,
		nodes:    make(map[string]any, len(published.Definition.Nodes)),
		replay:   replay,
		arrivals: make(map[string]map[string]mergeArrival),
		breaks:   make(map[string]bool),
	}

	for id, spec := range published.Definition.Nodes {
		node, err := e.buildNode(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to build node %s: %w", id, err)
		}

		rt.nodes[id] = node
	}

	return rt, nil
}

// run walks the graph from the trigger node. It returns once every spawned
// branch has joined.
func (rt *runtime) run(ctx context.Context) error {
	start := models.NodeResult{
		NodeID:    rt.ec.TriggerNodeID,
		Data:      rt.ec.TriggerData,
		Status:    models.NodeStatusCompleted,
		Timestamp: rt.ec.StartedAt,
	}

	return rt.runChain(ctx, rt.ec, rt.ec.TriggerNodeID, models.PortMain, start, nil)
}

// output returns the explicit end-node output, if any path reached one.
func (rt *runtime) output() map[string]any {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.out
}

func (rt *runtime) lastNodeID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.lastNode
}

func (rt *runtime) setLastNode(nodeID string) {
	rt.mu.Lock()
	rt.lastNode = nodeID
	rt.mu.Unlock()
}

func (rt *runtime) setOutput(out map[string]any) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.outSet {
		return
	}

	rt.out = out
	rt.outSet = true
}

// checkBudget runs the cooperative guards between node executions.
func (rt *runtime) checkBudget(ctx context.Context) error {
	if rt.ec.Cancelled() {
		return models.ErrCancellationRequested
	}

	if err := ctx.Err(); err != nil {
		return models.ErrExecutionTimeout
	}

	if rt.budget.Expired(time.Now()) {
		return models.ErrExecutionTimeout
	}

	if rt.ec.CountOperation() > int64(rt.budget.MaxOperations) {
		return models.ErrOperationLimitExceeded
	}

	return nil
}

// runChain executes one node and follows its outgoing connections until the
// chain ends. ec is the branch's view of the execution; loops carries the
// enclosing loop node ids, innermost last.
func (rt *runtime) runChain(ctx context.Context, ec *models.ExecutionContext, nodeID, inputPort string, input models.NodeResult, loops []string) error {
	if err := rt.checkBudget(ctx); err != nil {
		return err
	}

	spec, ok := rt.def.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("connection targets unknown node %s", nodeID)
	}

	if !spec.Enabled {
		rt.recordSkipped(ctx, nodeID)

		return nil
	}

	rt.setLastNode(nodeID)

	switch spec.Kind {
	case models.NodeKindLoopForEach:
		return rt.runForEach(ctx, ec, spec, loops)
	case models.NodeKindLoopWhile:
		return rt.runWhile(ctx, ec, spec, loops)
	case models.NodeKindLoopBreak:
		return rt.runBreak(ctx, spec, input, loops)
	case models.NodeKindFlowParallel:
		return rt.runParallel(ctx, ec, spec, input, loops)
	case models.NodeKindFlowMerge:
		return rt.runMerge(ctx, ec, spec, inputPort, input, loops)
	case models.NodeKindFlowEnd:
		return rt.runEnd(ctx, ec, spec, inputPort, input)
	default:
		return rt.runExecutable(ctx, ec, spec, inputPort, input, loops)
	}
}

// runExecutable handles the node kinds implementing models.Node: triggers,
// conditions, transforms and actions.
func (rt *runtime) runExecutable(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, inputPort string, input models.NodeResult, loops []string) error {
	node, ok := rt.nodes[spec.ID].(models.Node)
	if !ok {
		return fmt.Errorf("node %s (%s) is not executable", spec.ID, spec.Kind)
	}

	inputs := map[string]models.NodeResult{inputPort: input}

	outputs, err := rt.executeNode(ctx, ec, spec, node, inputs)
	if err != nil {
		return err
	}

	for port, result := range outputs {
		if err := rt.follow(ctx, ec, spec.ID, port, result, loops); err != nil {
			return err
		}
	}

	return nil
}

// follow routes one result along the enabled connections of an output port.
// An unrouted error port fails the execution.
func (rt *runtime) follow(ctx context.Context, ec *models.ExecutionContext, nodeID, port string, result models.NodeResult, loops []string) error {
	conns := rt.g.OutgoingFrom(nodeID, port)

	if len(conns) == 0 {
		if port == models.PortError {
			return models.NewNodeExecutionError(nodeID, errors.New(result.Error))
		}

		return nil
	}

	for _, conn := range conns {
		pass, err := rt.evalGuard(ctx, ec, conn, result)
		if err != nil {
			return err
		}

		if !pass {
			continue
		}

		if err := rt.runChain(ctx, ec, conn.TargetNode, conn.TargetPort, result, loops); err != nil {
			return err
		}
	}

	return nil
}

func (rt *runtime) evalGuard(ctx context.Context, ec *models.ExecutionContext, conn *models.Connection, input models.NodeResult) (bool, error) {
	if conn.Guard == "" {
		return true, nil
	}

	scope := expression.NewScope(ec)
	scope.Input = input.Data

	pass, err := rt.engine.eval.EvaluateBool(ctx, conn.Guard, scope)
	if err != nil {
		return false, fmt.Errorf("guard on connection %s: %w", conn.ID, err)
	}

	return pass, nil
}

func (rt *runtime) runForEach(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, loops []string) error {
	node, ok := rt.nodes[spec.ID].(*loop.ForEachNode)
	if !ok {
		return fmt.Errorf("node %s is not a foreach loop", spec.ID)
	}

	items, err := node.ResolveCollection(ctx, ec)
	if err != nil {
		return models.NewNodeExecutionError(spec.ID, err)
	}

	if len(items) > rt.budget.MaxLoopIterations {
		return fmt.Errorf("loop %s over %d items: %w", spec.ID, len(items), models.ErrLoopLimitExceeded)
	}

	if ec.LoopDepth()+1 > rt.budget.MaxLoopDepth {
		return fmt.Errorf("loop %s: %w", spec.ID, models.ErrLoopDepthExceeded)
	}

	rt.record(ctx, spec.ID, models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{"count": len(items)},
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}, loop.OutputPortBody)

	// Copy so sibling parallel branches never share a backing array.
	loops = append(append([]string(nil), loops...), spec.ID)

	processed := 0

	for index, item := range items {
		if rt.breakRequested(spec.ID) {
			break
		}

		if err := rt.checkBudget(ctx); err != nil {
			return err
		}

		ec.PushLoopScope(models.LoopScope{LoopID: spec.ID, Item: item, Index: index})

		err := rt.runBody(ctx, ec, spec.ID, loops)

		ec.PopLoopScope()

		if err != nil {
			return err
		}

		processed++
	}

	rt.clearBreak(spec.ID)

	done := models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{"count": len(items), "processed": processed},
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}

	return rt.follow(ctx, ec, spec.ID, loop.OutputPortDone, done, loops[:len(loops)-1])
}

func (rt *runtime) runWhile(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, loops []string) error {
	node, ok := rt.nodes[spec.ID].(*loop.WhileNode)
	if !ok {
		return fmt.Errorf("node %s is not a while loop", spec.ID)
	}

	if ec.LoopDepth()+1 > rt.budget.MaxLoopDepth {
		return fmt.Errorf("loop %s: %w", spec.ID, models.ErrLoopDepthExceeded)
	}

	rt.record(ctx, spec.ID, models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{},
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}, loop.OutputPortBody)

	loops = append(append([]string(nil), loops...), spec.ID)

	iterations := 0

	for ; iterations < rt.budget.MaxLoopIterations; iterations++ {
		if rt.breakRequested(spec.ID) {
			break
		}

		if err := rt.checkBudget(ctx); err != nil {
			return err
		}

		proceed, err := node.EvaluateCondition(ctx, ec)
		if err != nil {
			return models.NewNodeExecutionError(spec.ID, err)
		}

		if !proceed {
			break
		}

		ec.PushLoopScope(models.LoopScope{LoopID: spec.ID, Index: iterations})

		err = rt.runBody(ctx, ec, spec.ID, loops)

		ec.PopLoopScope()

		if err != nil {
			return err
		}
	}

	// Hitting the cap with the condition still true is a runaway loop, not
	// a silent truncation.
	if iterations >= rt.budget.MaxLoopIterations && !rt.breakRequested(spec.ID) {
		proceed, err := node.EvaluateCondition(ctx, ec)
		if err != nil {
			return models.NewNodeExecutionError(spec.ID, err)
		}

		if proceed {
			return fmt.Errorf("loop %s after %d iterations: %w", spec.ID, iterations, models.ErrLoopLimitExceeded)
		}
	}

	rt.clearBreak(spec.ID)

	done := models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{"iterations": iterations},
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}

	return rt.follow(ctx, ec, spec.ID, loop.OutputPortDone, done, loops[:len(loops)-1])
}

// runBody runs one loop iteration over the body subgraph.
func (rt *runtime) runBody(ctx context.Context, ec *models.ExecutionContext, loopID string, loops []string) error {
	for _, conn := range rt.g.OutgoingFrom(loopID, loop.OutputPortBody) {
		if rt.breakRequested(loopID) {
			return nil
		}

		pass, err := rt.evalGuard(ctx, ec, conn, models.NodeResult{})
		if err != nil {
			return err
		}

		if !pass {
			continue
		}

		scope, _ := ec.CurrentLoopScope()
		iterationInput := models.NodeResult{
			NodeID:    loopID,
			Data:      map[string]any{"item": scope.Item, "index": scope.Index},
			Status:    models.NodeStatusCompleted,
			Timestamp: time.Now().UTC(),
		}

		if err := rt.runChain(ctx, ec, conn.TargetNode, conn.TargetPort, iterationInput, loops); err != nil {
			return err
		}
	}

	return nil
}

func (rt *runtime) runBreak(ctx context.Context, spec *models.NodeSpec, input models.NodeResult, loops []string) error {
	node, ok := rt.nodes[spec.ID].(*loop.BreakNode)
	if !ok {
		return fmt.Errorf("node %s is not a loop break", spec.ID)
	}

	if len(loops) == 0 {
		return fmt.Errorf("break node %s is not inside a loop", spec.ID)
	}

	target := node.LoopID()
	if target == "" {
		target = loops[len(loops)-1]
	} else if !containsLoop(loops, target) {
		return fmt.Errorf("break node %s targets loop %s outside its nesting", spec.ID, target)
	}

	rt.mu.Lock()
	rt.breaks[target] = true
	rt.mu.Unlock()

	rt.record(ctx, spec.ID, models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{"loop": target},
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}, models.PortMain)

	return nil
}

func containsLoop(loops []string, id string) bool {
	for _, l := range loops {
		if l == id {
			return true
		}
	}

	return false
}

func (rt *runtime) breakRequested(loopID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.breaks[loopID]
}

func (rt *runtime) clearBreak(loopID string) {
	rt.mu.Lock()
	delete(rt.breaks, loopID)
	rt.mu.Unlock()
}

// runParallel fans the branches out as goroutines, each on its own Branch of
// the execution context. The first failed branch cancels the rest.
func (rt *runtime) runParallel(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, input models.NodeResult, loops []string) error {
	conns := rt.g.OutgoingFrom(spec.ID, flow.OutputPortBranch)

	rt.record(ctx, spec.ID, models.NodeResult{
		NodeID:    spec.ID,
		Data:      map[string]any{"branches": len(conns)},
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}, flow.OutputPortBranch)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, conn := range conns {
		branch := ec.Branch()

		group.Go(func() error {
			pass, err := rt.evalGuard(groupCtx, branch, conn, input)
			if err != nil || !pass {
				return err
			}

			rt.budget.AcquireSlot()
			defer rt.budget.ReleaseSlot()

			return rt.runChain(groupCtx, branch, conn.TargetNode, conn.TargetPort, input, loops)
		})
	}

	return group.Wait()
}

// runMerge records the arriving branch and completes the join once every
// enabled incoming connection has arrived. Arrivals are keyed by the source
// node and target port so two branches wired to the same input port both
// count, and the arrival set is cleared when the join fires so a merge inside
// a loop body waits for all branches on every iteration.
func (rt *runtime) runMerge(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, inputPort string, input models.NodeResult, loops []string) error {
	node, ok := rt.nodes[spec.ID].(*flow.MergeNode)
	if !ok {
		return fmt.Errorf("node %s is not a merge", spec.ID)
	}

	need := len(rt.g.IncomingTo(spec.ID))

	rt.mu.Lock()

	arrivals, ok := rt.arrivals[spec.ID]
	if !ok {
		arrivals = make(map[string]mergeArrival, need)
		rt.arrivals[spec.ID] = arrivals
	}

	arrivals[input.NodeID+"\x00"+inputPort] = mergeArrival{port: inputPort, result: input}
	complete := len(arrivals) >= need

	var byPort map[string]models.NodeResult

	if complete {
		byPort = make(map[string]models.NodeResult, len(arrivals))
		for _, arrival := range arrivals {
			byPort[arrival.port] = arrival.result
		}

		delete(rt.arrivals, spec.ID)
	}

	rt.mu.Unlock()

	if !complete {
		return nil
	}

	merged := node.Merge(byPort)
	merged.Timestamp = time.Now().UTC()

	rt.record(ctx, spec.ID, merged, flow.OutputPortMerged)

	return rt.follow(ctx, ec, spec.ID, flow.OutputPortMerged, merged, loops)
}

func (rt *runtime) runEnd(ctx context.Context, ec *models.ExecutionContext, spec *models.NodeSpec, inputPort string, input models.NodeResult) error {
	node, ok := rt.nodes[spec.ID].(*flow.EndNode)
	if !ok {
		return fmt.Errorf("node %s is not an end node", spec.ID)
	}

	out, err := node.Output(ctx, ec, map[string]models.NodeResult{inputPort: input})
	if err != nil {
		return models.NewNodeExecutionError(spec.ID, err)
	}

	rt.setOutput(out)

	rt.record(ctx, spec.ID, models.NodeResult{
		NodeID:    spec.ID,
		Data:      out,
		Status:    models.NodeStatusCompleted,
		Timestamp: time.Now().UTC(),
	}, models.PortMain)

	return nil
}

// record stores a structural node result and persists its state.
func (rt *runtime) record(ctx context.Context, nodeID string, result models.NodeResult, outputPort string) {
	now := time.Now().UTC()

	rt.ec.RecordResult(nodeID, result)

	state := &models.NodeExecutionState{
		NodeID:     nodeID,
		Status:     result.Status,
		StartedAt:  now,
		FinishedAt: &now,
		Output:     result.Data,
		OutputPort: outputPort,
	}

	rt.ec.SetNodeState(state)
	rt.persistState(ctx, state)
}

func (rt *runtime) recordSkipped(ctx context.Context, nodeID string) {
	now := time.Now().UTC()

	state := &models.NodeExecutionState{
		NodeID:     nodeID,
		Status:     models.NodeStatusSkipped,
		StartedAt:  now,
		FinishedAt: &now,
	}

	rt.ec.SetNodeState(state)
	rt.persistState(ctx, state)
}

func (rt *runtime) persistState(ctx context.Context, state *models.NodeExecutionState) {
	if err := rt.engine.persistence.AppendNodeState(ctx, rt.ec.ID, state); err != nil {
		rt.engine.logger.ErrorContext(ctx, "Failed to persist node state",
			"execution_id", rt.ec.ID, "node_id", state.NodeID, "error", err)
	}
}
