package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayflow/relay/pkg/models"
)

// MaxDelay caps a single delay so a workflow cannot park an execution slot
// past its own deadline by orders of magnitude.
const MaxDelay = 24 * time.Hour

// DelayNode pauses the current chain for a configured duration. The wait is
// interruptible: context cancellation and execution cancellation both end it
// early.
type DelayNode struct {
	id       string
	duration time.Duration
}

// NewDelayNode creates a new delay node.
func NewDelayNode(id string, config map[string]any) (*DelayNode, error) {
	duration, err := parseDelay(config)
	if err != nil {
		return nil, err
	}

	return &DelayNode{id: id, duration: duration}, nil
}

func parseDelay(config map[string]any) (time.Duration, error) {
	var duration time.Duration

	switch v := config["duration"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}

		duration = d
	case float64:
		duration = time.Duration(v * float64(time.Second))
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return 0, errors.New("missing required field 'duration'")
	}

	if duration <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", duration)
	}

	if duration > MaxDelay {
		return 0, fmt.Errorf("duration %s exceeds maximum %s", duration, MaxDelay)
	}

	return duration, nil
}

// ID returns the node ID.
func (n *DelayNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *DelayNode) Kind() models.NodeKind {
	return models.NodeKindActionDelay
}

// Duration returns the configured wait.
func (n *DelayNode) Duration() time.Duration {
	return n.duration
}

// Execute waits for the configured duration or until cancelled.
func (n *DelayNode) Execute(ctx context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	timer := time.NewTimer(n.duration)
	defer timer.Stop()

	// Poll the cooperative cancellation flag while waiting so a Cancel call
	// does not have to wait out the full delay.
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-timer.C:
			return successResult(n.id, map[string]any{
				"waited": n.duration.String(),
			}), nil
		case <-ctx.Done():
			return nil, models.ErrExecutionTimeout
		case <-tick.C:
			if ec.Cancelled() {
				return nil, models.ErrCancellationRequested
			}
		}
	}
}

// InputPorts returns the input ports for the node.
func (n *DelayNode) InputPorts() []models.InputPort {
	return mainInput(n.id)
}

// OutputPorts returns the output ports for the node.
func (n *DelayNode) OutputPorts() []models.OutputPort {
	return successErrorOutputs(n.id)
}
