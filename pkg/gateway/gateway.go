// Package gateway defines the external action gateway: the single point
// through which workflow nodes perform side effects against external systems.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds an invocation when the node does not configure one.
const DefaultTimeout = 30 * time.Second

// InvocationRequest describes one call to an external system.
type InvocationRequest struct {
	Target  string         `json:"target"` // "module:<name>" or an http(s) URL
	Action  string         `json:"action"`
	Params  map[string]any `json:"params,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty"`
}

// InvocationResponse is the outcome of one call.
type InvocationResponse struct {
	Success bool           `json:"success"`
	Status  int            `json:"status,omitempty"` // transport status when applicable
	Payload map[string]any `json:"payload,omitempty"`
}

// Gateway is the collaborator interface for side-effecting calls.
// Non-success responses are retryable unless the node's policy says
// otherwise. Retries carry no idempotency key; duplicate side effects on
// retry are possible and accepted.
type Gateway interface {
	Invoke(ctx context.Context, req InvocationRequest) (*InvocationResponse, error)
}

// ErrUnknownTarget indicates no gateway can serve the requested target.
var ErrUnknownTarget = errors.New("unknown gateway target")

// Mux routes invocations to the module gateway or the webhook gateway based
// on the target scheme.
type Mux struct {
	modules  *ModuleGateway
	webhooks Gateway
}

// NewMux creates a gateway multiplexer.
func NewMux(modules *ModuleGateway, webhooks Gateway) *Mux {
	return &Mux{modules: modules, webhooks: webhooks}
}

// Invoke dispatches by target: "module:<name>" targets go to the in-process
// module registry, http(s) targets go to the webhook gateway.
func (m *Mux) Invoke(ctx context.Context, req InvocationRequest) (*InvocationResponse, error) {
	switch {
	case strings.HasPrefix(req.Target, "module:"):
		return m.modules.Invoke(ctx, req)
	case strings.HasPrefix(req.Target, "http://"), strings.HasPrefix(req.Target, "https://"):
		return m.webhooks.Invoke(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, req.Target)
	}
}
