package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps how much of a webhook response is read back.
const maxResponseBytes = 1 << 20

// HTTPGateway delivers webhook invocations as JSON POST requests.
type HTTPGateway struct {
	client *http.Client
}

// NewHTTPGateway creates a webhook gateway. A nil client uses http.DefaultClient.
func NewHTTPGateway(client *http.Client) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPGateway{client: client}
}

// Invoke posts the action and params to the target URL. Non-2xx responses
// return an error so the engine's retry policy applies.
func (g *HTTPGateway) Invoke(ctx context.Context, req InvocationRequest) (*InvocationResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"action": req.Action,
		"params": req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, req.Target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook call to %s failed: %w", req.Target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	payload := map[string]any{}
	if len(data) > 0 {
		var decoded any
		if jsonErr := json.Unmarshal(data, &decoded); jsonErr == nil {
			if obj, ok := decoded.(map[string]any); ok {
				payload = obj
			} else {
				payload["body"] = decoded
			}
		} else {
			payload["body"] = string(data)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &InvocationResponse{Success: false, Status: resp.StatusCode, Payload: payload},
			fmt.Errorf("webhook call to %s returned status %d", req.Target, resp.StatusCode)
	}

	return &InvocationResponse{Success: true, Status: resp.StatusCode, Payload: payload}, nil
}
