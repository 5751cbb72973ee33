// Package trigger provides the entry-point nodes: chat command, inbound
// webhook and schedule. A trigger node matches the incoming event and emits
// the trigger payload on its main output.
package trigger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayflow/relay/pkg/models"
)

const OutputPortMain = models.PortMain

// ChatCommandNode starts a workflow when a chat command event arrives. The
// command is matched case-insensitively, with or without the leading slash.
type ChatCommandNode struct {
	id      string
	command string
}

// NewChatCommandNode creates a new chat command trigger node.
func NewChatCommandNode(id string, config map[string]any) (*ChatCommandNode, error) {
	command, ok := config["command"].(string)
	if !ok || command == "" {
		return nil, errors.New("missing required field 'command'")
	}

	return &ChatCommandNode{id: id, command: normalizeCommand(command)}, nil
}

// ID returns the node ID.
func (n *ChatCommandNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *ChatCommandNode) Kind() models.NodeKind {
	return models.NodeKindTriggerChatCommand
}

// Matches reports whether the trigger event carries this node's command.
func (n *ChatCommandNode) Matches(triggerData map[string]any) bool {
	command, ok := triggerData["command"].(string)
	if !ok {
		return false
	}

	return normalizeCommand(command) == n.command
}

// Execute emits the trigger payload on the main output.
func (n *ChatCommandNode) Execute(_ context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	return triggerResult(n.id, ec.TriggerData), nil
}

// InputPorts returns no ports: triggers have no inbound connections.
func (n *ChatCommandNode) InputPorts() []models.InputPort {
	return nil
}

// OutputPorts returns the output ports for the node.
func (n *ChatCommandNode) OutputPorts() []models.OutputPort {
	return mainOutput(n.id, "Chat command payload")
}

func normalizeCommand(command string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(command), "/"))
}

// WebhookNode starts a workflow when an inbound webhook request arrives for
// its workflow. An optional event filter matches against the payload's
// "event" field.
type WebhookNode struct {
	id    string
	event string
}

// NewWebhookNode creates a new inbound webhook trigger node.
func NewWebhookNode(id string, config map[string]any) (*WebhookNode, error) {
	event, _ := config["event"].(string)

	return &WebhookNode{id: id, event: event}, nil
}

// ID returns the node ID.
func (n *WebhookNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *WebhookNode) Kind() models.NodeKind {
	return models.NodeKindTriggerWebhook
}

// Matches reports whether the webhook payload passes the event filter.
func (n *WebhookNode) Matches(triggerData map[string]any) bool {
	if n.event == "" {
		return true
	}

	event, _ := triggerData["event"].(string)

	return event == n.event
}

// Execute emits the webhook payload on the main output.
func (n *WebhookNode) Execute(_ context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	return triggerResult(n.id, ec.TriggerData), nil
}

// InputPorts returns no ports: triggers have no inbound connections.
func (n *WebhookNode) InputPorts() []models.InputPort {
	return nil
}

// OutputPorts returns the output ports for the node.
func (n *WebhookNode) OutputPorts() []models.OutputPort {
	return mainOutput(n.id, "Webhook request payload")
}

// ScheduleNode starts a workflow on a cron schedule.
type ScheduleNode struct {
	id   string
	spec string
}

// NewScheduleNode creates a new schedule trigger node.
func NewScheduleNode(id string, config map[string]any) (*ScheduleNode, error) {
	spec, ok := config["schedule"].(string)
	if !ok || spec == "" {
		return nil, errors.New("missing required field 'schedule'")
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, err
	}

	return &ScheduleNode{id: id, spec: spec}, nil
}

// ID returns the node ID.
func (n *ScheduleNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *ScheduleNode) Kind() models.NodeKind {
	return models.NodeKindTriggerSchedule
}

// Spec returns the cron expression the scheduler registers.
func (n *ScheduleNode) Spec() string {
	return n.spec
}

// Matches reports whether the fire event targets this schedule.
func (n *ScheduleNode) Matches(triggerData map[string]any) bool {
	spec, ok := triggerData["schedule"].(string)
	if !ok {
		// Manual runs may omit the schedule field.
		return true
	}

	return spec == n.spec
}

// Execute emits the fire metadata on the main output.
func (n *ScheduleNode) Execute(_ context.Context, ec *models.ExecutionContext, _ map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	return triggerResult(n.id, ec.TriggerData), nil
}

// InputPorts returns no ports: triggers have no inbound connections.
func (n *ScheduleNode) InputPorts() []models.InputPort {
	return nil
}

// OutputPorts returns the output ports for the node.
func (n *ScheduleNode) OutputPorts() []models.OutputPort {
	return mainOutput(n.id, "Schedule fire metadata")
}

func triggerResult(nodeID string, triggerData map[string]any) map[string]models.NodeResult {
	data := triggerData
	if data == nil {
		data = map[string]any{}
	}

	return map[string]models.NodeResult{
		OutputPortMain: {
			NodeID:    nodeID,
			Data:      data,
			Status:    models.NodeStatusCompleted,
			Timestamp: time.Now().UTC(),
		},
	}
}

func mainOutput(nodeID, description string) []models.OutputPort {
	return []models.OutputPort{
		{
			Port: models.Port{
				ID:          models.MakePortID(nodeID, OutputPortMain),
				NodeID:      nodeID,
				Name:        OutputPortMain,
				Description: description,
			},
		},
	}
}
