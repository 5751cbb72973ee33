// Package webhook exposes the inbound HTTP surface: workflow webhooks and
// chat commands. Authentication, signatures and rate limiting are handled
// upstream; payloads arriving here are trusted.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/relayflow/relay/pkg/engine"
	"github.com/relayflow/relay/pkg/persistence"
)

const maxBodyBytes = 1 << 20

// Launcher is the engine surface the receiver needs.
type Launcher interface {
	Submit(ctx context.Context, workflowID string, triggerData map[string]any) (executionID string, queued bool, err error)
	SubmitCommand(ctx context.Context, command string, triggerData map[string]any) (executionIDs []string, err error)
}

// Receiver is the fiber application serving trigger endpoints.
type Receiver struct {
	app      *fiber.App
	launcher Launcher
	logger   *slog.Logger
	port     int
}

// NewReceiver creates the receiver and registers its routes.
func NewReceiver(launcher Launcher, logger *slog.Logger, port int) *Receiver {
	app := fiber.New(fiber.Config{
		AppName:   "relay-webhooks",
		BodyLimit: maxBodyBytes,
	})

	r := &Receiver{
		app:      app,
		launcher: launcher,
		logger:   logger.With("module", "webhook_receiver"),
		port:     port,
	}

	app.Get("/health", r.handleHealth)
	app.Post("/webhooks/:workflowID", r.handleWebhook)
	app.Post("/commands", r.handleCommand)

	return r
}

// App returns the fiber application, used by tests.
func (r *Receiver) App() *fiber.App {
	return r.app
}

// Start serves until the context is done.
func (r *Receiver) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.app.ShutdownWithContext(shutdownCtx); err != nil {
			r.logger.ErrorContext(shutdownCtx, "Webhook receiver shutdown failed", "error", err)
		}
	}()

	r.logger.InfoContext(ctx, "Starting webhook receiver", "port", r.port)

	if err := r.app.Listen(fmt.Sprintf(":%d", r.port)); err != nil {
		return fmt.Errorf("webhook receiver failed: %w", err)
	}

	return nil
}

func (r *Receiver) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (r *Receiver) handleWebhook(c fiber.Ctx) error {
	workflowID := c.Params("workflowID")
	if workflowID == "" {
		return badRequest(c, "workflow id is required")
	}

	payload, err := parsePayload(c.Body())
	if err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	payload["headers"] = headerMap(c)
	payload["received_at"] = time.Now().UTC().Format(time.RFC3339)

	executionID, queued, err := r.launcher.Submit(c.Context(), workflowID, payload)
	if err != nil {
		return r.submissionError(c, workflowID, err)
	}

	status := fiber.StatusAccepted

	return c.Status(status).JSON(fiber.Map{
		"execution_id": executionID,
		"queued":       queued,
	})
}

func (r *Receiver) handleCommand(c fiber.Ctx) error {
	payload, err := parsePayload(c.Body())
	if err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	command, _ := payload["command"].(string)
	if command == "" {
		return badRequest(c, "command is required")
	}

	executionIDs, err := r.launcher.SubmitCommand(c.Context(), command, payload)
	if err != nil {
		return r.submissionError(c, "", err)
	}

	if len(executionIDs) == 0 {
		return notFound(c, "no workflow handles command "+command)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_ids": executionIDs,
	})
}

func (r *Receiver) submissionError(c fiber.Ctx, workflowID string, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err), errors.Is(err, persistence.ErrPublishedWorkflowNotFound):
		return notFound(c, "published workflow not found")
	case errors.Is(err, engine.ErrCapacityExceeded):
		return overloaded(c, "execution concurrency limit reached")
	case errors.Is(err, engine.ErrTriggerMismatch):
		return unprocessable(c, "workflow has no matching trigger for this event")
	default:
		r.logger.Error("Trigger submission failed", "workflow_id", workflowID, "error", err)

		return internalError(c, err)
	}
}

func parsePayload(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	return payload, nil
}

func headerMap(c fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	return headers
}
