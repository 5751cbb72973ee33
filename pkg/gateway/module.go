package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ModuleHandler serves one named in-process module (chat responses,
// notifications, internal services).
type ModuleHandler func(ctx context.Context, action string, params map[string]any) (map[string]any, error)

// ModuleGateway dispatches "module:<name>" invocations to registered handlers.
type ModuleGateway struct {
	mu       sync.RWMutex
	handlers map[string]ModuleHandler
}

// NewModuleGateway creates an empty module registry.
func NewModuleGateway() *ModuleGateway {
	return &ModuleGateway{handlers: make(map[string]ModuleHandler)}
}

// Register adds a handler for the named module, replacing any previous one.
func (g *ModuleGateway) Register(name string, handler ModuleHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handlers[name] = handler
}

// Invoke calls the named module handler, bounded by the request timeout.
func (g *ModuleGateway) Invoke(ctx context.Context, req InvocationRequest) (*InvocationResponse, error) {
	name := strings.TrimPrefix(req.Target, "module:")

	g.mu.RLock()
	handler, ok := g.handlers[name]
	g.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: module %q not registered", ErrUnknownTarget, name)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := handler(callCtx, req.Action, req.Params)
	if err != nil {
		return nil, fmt.Errorf("module %q action %q: %w", name, req.Action, err)
	}

	return &InvocationResponse{Success: true, Payload: payload}, nil
}
