package action

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// ModuleFactory describes the module call node type.
type ModuleFactory struct{}

// NewModuleFactory creates a new factory instance.
func NewModuleFactory() protocol.NodeFactory {
	return &ModuleFactory{}
}

// Kind returns the node kind.
func (f *ModuleFactory) Kind() models.NodeKind {
	return models.NodeKindActionModule
}

// Name returns the factory name.
func (f *ModuleFactory) Name() string {
	return "Call Module"
}

// Description returns the factory description.
func (f *ModuleFactory) Description() string {
	return "Invokes an action on a registered module through the gateway."
}

// Schema returns the JSON schema for the node configuration.
func (f *ModuleFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"module", "action"},
		"properties": map[string]any{
			"module": map[string]any{
				"type":        "string",
				"description": "Registered module name",
			},
			"action": map[string]any{
				"type":        "string",
				"description": "Action to invoke on the module",
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Call parameters. Values support {{...}} interpolation.",
			},
			"timeout": map[string]any{
				"description": "Call timeout, e.g. \"30s\" or a number of seconds",
			},
		},
	}
}

// Validate validates the node configuration.
func (f *ModuleFactory) Validate(config map[string]any) error {
	if name, ok := config["module"].(string); !ok || name == "" {
		return errors.New("missing required field 'module'")
	}

	if act, ok := config["action"].(string); !ok || act == "" {
		return errors.New("missing required field 'action'")
	}

	return validateTimeout(config)
}

// WebhookFactory describes the outbound webhook node type.
type WebhookFactory struct{}

// NewWebhookFactory creates a new factory instance.
func NewWebhookFactory() protocol.NodeFactory {
	return &WebhookFactory{}
}

// Kind returns the node kind.
func (f *WebhookFactory) Kind() models.NodeKind {
	return models.NodeKindActionWebhook
}

// Name returns the factory name.
func (f *WebhookFactory) Name() string {
	return "Call Webhook"
}

// Description returns the factory description.
func (f *WebhookFactory) Description() string {
	return "Posts a JSON payload to an external HTTP endpoint."
}

// Schema returns the JSON schema for the node configuration.
func (f *WebhookFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Endpoint URL. Supports {{...}} interpolation.",
			},
			"payload": map[string]any{
				"type":        "object",
				"description": "JSON body to post. Values support {{...}} interpolation.",
			},
			"timeout": map[string]any{
				"description": "Call timeout, e.g. \"30s\" or a number of seconds",
			},
		},
	}
}

// Validate validates the node configuration.
func (f *WebhookFactory) Validate(config map[string]any) error {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return errors.New("missing required field 'url'")
	}

	// Interpolated URLs are only checkable at runtime.
	if !strings.Contains(url, "{{") &&
		!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("url must be http or https, got %q", url)
	}

	return validateTimeout(config)
}

// NotifyFactory describes the notification node type.
type NotifyFactory struct{}

// NewNotifyFactory creates a new factory instance.
func NewNotifyFactory() protocol.NodeFactory {
	return &NotifyFactory{}
}

// Kind returns the node kind.
func (f *NotifyFactory) Kind() models.NodeKind {
	return models.NodeKindActionNotify
}

// Name returns the factory name.
func (f *NotifyFactory) Name() string {
	return "Notify"
}

// Description returns the factory description.
func (f *NotifyFactory) Description() string {
	return "Sends a rendered message to a notification channel."
}

// Schema returns the JSON schema for the node configuration.
func (f *NotifyFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"channel", "message"},
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"description": "Notification channel name",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message template. Supports {{...}} interpolation.",
			},
		},
	}
}

// Validate validates the node configuration.
func (f *NotifyFactory) Validate(config map[string]any) error {
	if channel, ok := config["channel"].(string); !ok || channel == "" {
		return errors.New("missing required field 'channel'")
	}

	if message, ok := config["message"].(string); !ok || message == "" {
		return errors.New("missing required field 'message'")
	}

	return nil
}

// DelayFactory describes the delay node type.
type DelayFactory struct{}

// NewDelayFactory creates a new factory instance.
func NewDelayFactory() protocol.NodeFactory {
	return &DelayFactory{}
}

// Kind returns the node kind.
func (f *DelayFactory) Kind() models.NodeKind {
	return models.NodeKindActionDelay
}

// Name returns the factory name.
func (f *DelayFactory) Name() string {
	return "Delay"
}

// Description returns the factory description.
func (f *DelayFactory) Description() string {
	return "Pauses the current path for a configured duration."
}

// Schema returns the JSON schema for the node configuration.
func (f *DelayFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"duration"},
		"properties": map[string]any{
			"duration": map[string]any{
				"description": "Wait duration, e.g. \"5s\", \"2m\" or a number of seconds",
				"examples":    []string{"5s", "2m", "1h"},
			},
		},
	}
}

// Validate validates the node configuration.
func (f *DelayFactory) Validate(config map[string]any) error {
	_, err := parseDelay(config)

	return err
}

func validateTimeout(config map[string]any) error {
	raw, ok := config["timeout"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case float64, int:
		return nil
	case string:
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", v, err)
		}

		return nil
	default:
		return fmt.Errorf("timeout must be a duration string or number, got %T", raw)
	}
}
