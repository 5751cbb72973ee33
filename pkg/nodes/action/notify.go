package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/models"
)

// NotifyNode sends a message to a named notification channel. Channels are
// modules registered on the gateway under the "notify" module namespace;
// when no such module is registered the message goes to the log only.
type NotifyNode struct {
	id      string
	channel string
	message string
	gw      gateway.Gateway
	eval    *expression.Evaluator
	logger  *slog.Logger
}

// NewNotifyNode creates a new notification node.
func NewNotifyNode(id string, config map[string]any, gw gateway.Gateway, eval *expression.Evaluator, logger *slog.Logger) (*NotifyNode, error) {
	channel, ok := config["channel"].(string)
	if !ok {
		return nil, errors.New("missing required field 'channel'")
	}

	message, ok := config["message"].(string)
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	return &NotifyNode{
		id:      id,
		channel: channel,
		message: message,
		gw:      gw,
		eval:    eval,
		logger:  logger,
	}, nil
}

// ID returns the node ID.
func (n *NotifyNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *NotifyNode) Kind() models.NodeKind {
	return models.NodeKindActionNotify
}

// Execute renders the message template and delivers it to the channel.
func (n *NotifyNode) Execute(ctx context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	scope := expression.NewScope(ec)

	message, err := n.eval.InterpolateString(ctx, n.message, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("message interpolation failed: %v", err)), nil
	}

	resp, err := n.gw.Invoke(ctx, gateway.InvocationRequest{
		Target: "module:notify",
		Action: "send",
		Params: map[string]any{
			"channel": n.channel,
			"message": message,
		},
	})

	switch {
	case errors.Is(err, gateway.ErrUnknownTarget):
		n.logger.InfoContext(ctx, "Notification (no channel module registered)",
			"channel", n.channel, "message", message)
	case err != nil:
		return nil, models.NewNodeExecutionError(n.id, err)
	}

	data := map[string]any{
		"channel": n.channel,
		"message": message,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
	if resp != nil {
		data["payload"] = resp.Payload
	}

	return successResult(n.id, data), nil
}

// InputPorts returns the input ports for the node.
func (n *NotifyNode) InputPorts() []models.InputPort {
	return mainInput(n.id)
}

// OutputPorts returns the output ports for the node.
func (n *NotifyNode) OutputPorts() []models.OutputPort {
	return successErrorOutputs(n.id)
}
