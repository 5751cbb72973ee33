package trigger

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// ChatCommandFactory describes the chat command trigger node type.
type ChatCommandFactory struct{}

// NewChatCommandFactory creates a new factory instance.
func NewChatCommandFactory() protocol.NodeFactory {
	return &ChatCommandFactory{}
}

// Kind returns the node kind.
func (f *ChatCommandFactory) Kind() models.NodeKind {
	return models.NodeKindTriggerChatCommand
}

// Name returns the factory name.
func (f *ChatCommandFactory) Name() string {
	return "Chat Command"
}

// Description returns the factory description.
func (f *ChatCommandFactory) Description() string {
	return "Starts the workflow when a matching chat command is received."
}

// Schema returns the JSON schema for the node configuration.
func (f *ChatCommandFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"command"},
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Command name, with or without the leading slash",
				"examples":    []string{"/deploy", "status"},
			},
		},
	}
}

// Validate validates the node configuration.
func (f *ChatCommandFactory) Validate(config map[string]any) error {
	if command, ok := config["command"].(string); !ok || command == "" {
		return errors.New("missing required field 'command'")
	}

	return nil
}

// WebhookFactory describes the inbound webhook trigger node type.
type WebhookFactory struct{}

// NewWebhookFactory creates a new factory instance.
func NewWebhookFactory() protocol.NodeFactory {
	return &WebhookFactory{}
}

// Kind returns the node kind.
func (f *WebhookFactory) Kind() models.NodeKind {
	return models.NodeKindTriggerWebhook
}

// Name returns the factory name.
func (f *WebhookFactory) Name() string {
	return "Webhook"
}

// Description returns the factory description.
func (f *WebhookFactory) Description() string {
	return "Starts the workflow when an inbound webhook request arrives."
}

// Schema returns the JSON schema for the node configuration.
func (f *WebhookFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"event": map[string]any{
				"type":        "string",
				"description": "Optional filter on the payload's 'event' field",
			},
		},
	}
}

// Validate validates the node configuration.
func (f *WebhookFactory) Validate(config map[string]any) error {
	if raw, ok := config["event"]; ok {
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("event must be a string, got %T", raw)
		}
	}

	return nil
}

// ScheduleFactory describes the schedule trigger node type.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new factory instance.
func NewScheduleFactory() protocol.NodeFactory {
	return &ScheduleFactory{}
}

// Kind returns the node kind.
func (f *ScheduleFactory) Kind() models.NodeKind {
	return models.NodeKindTriggerSchedule
}

// Name returns the factory name.
func (f *ScheduleFactory) Name() string {
	return "Schedule"
}

// Description returns the factory description.
func (f *ScheduleFactory) Description() string {
	return "Starts the workflow on a cron schedule."
}

// Schema returns the JSON schema for the node configuration.
func (f *ScheduleFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"schedule"},
		"properties": map[string]any{
			"schedule": map[string]any{
				"type":        "string",
				"description": "Cron expression or @every duration",
				"examples":    []string{"0 9 * * 1-5", "@every 5m", "@hourly"},
			},
		},
	}
}

// Validate validates the node configuration.
func (f *ScheduleFactory) Validate(config map[string]any) error {
	spec, ok := config["schedule"].(string)
	if !ok || spec == "" {
		return errors.New("missing required field 'schedule'")
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return nil
}
