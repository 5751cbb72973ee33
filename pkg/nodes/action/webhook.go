package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relayflow/relay/pkg/expression"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/models"
)

// WebhookNode posts a JSON payload to an external HTTP endpoint through the
// gateway.
type WebhookNode struct {
	id      string
	url     string
	payload map[string]any
	timeout time.Duration
	gw      gateway.Gateway
	eval    *expression.Evaluator
}

// NewWebhookNode creates a new outbound webhook node.
func NewWebhookNode(id string, config map[string]any, gw gateway.Gateway, eval *expression.Evaluator) (*WebhookNode, error) {
	url, ok := config["url"].(string)
	if !ok {
		return nil, errors.New("missing required field 'url'")
	}

	payload, _ := config["payload"].(map[string]any)

	return &WebhookNode{
		id:      id,
		url:     url,
		payload: payload,
		timeout: parseTimeout(config),
		gw:      gw,
		eval:    eval,
	}, nil
}

// ID returns the node ID.
func (n *WebhookNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *WebhookNode) Kind() models.NodeKind {
	return models.NodeKindActionWebhook
}

// Execute interpolates the URL and payload, then posts through the gateway.
func (n *WebhookNode) Execute(ctx context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	scope := expression.NewScope(ec)

	url, err := n.eval.InterpolateString(ctx, n.url, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("url interpolation failed: %v", err)), nil
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errorResult(n.id, fmt.Sprintf("invalid webhook url %q", url)), nil
	}

	payload, err := n.eval.InterpolateConfig(ctx, n.payload, scope)
	if err != nil {
		return errorResult(n.id, fmt.Sprintf("payload interpolation failed: %v", err)), nil
	}

	resp, err := n.gw.Invoke(ctx, gateway.InvocationRequest{
		Target:  url,
		Action:  "deliver",
		Params:  payload,
		Timeout: n.timeout,
	})
	if err != nil {
		return nil, models.NewNodeExecutionError(n.id, err)
	}

	return successResult(n.id, map[string]any{
		"url":     url,
		"status":  resp.Status,
		"payload": resp.Payload,
	}), nil
}

// InputPorts returns the input ports for the node.
func (n *WebhookNode) InputPorts() []models.InputPort {
	return mainInput(n.id)
}

// OutputPorts returns the output ports for the node.
func (n *WebhookNode) OutputPorts() []models.OutputPort {
	return successErrorOutputs(n.id)
}
