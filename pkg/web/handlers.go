// Package web exposes the workflow management REST API.
package web

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
	"github.com/relayflow/relay/pkg/workflow"
)

type APIHandlers struct {
	persistence persistence.Persistence
	loader      *workflow.Loader
	publishing  *workflow.PublishingService
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	loader *workflow.Loader,
	publishing *workflow.PublishingService,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		loader:      loader,
		publishing:  publishing,
	}
}

// Register mounts the API routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Get("/workflows", h.GetWorkflows)
	app.Post("/workflows", h.CreateWorkflow)
	app.Get("/workflows/:id", h.GetWorkflow)
	app.Put("/workflows/:id", h.UpdateWorkflow)
	app.Delete("/workflows/:id", h.DeleteWorkflow)
	app.Post("/workflows/:id/publish", h.PublishWorkflow)
	app.Post("/workflows/:id/archive", h.ArchiveWorkflow)

	app.Get("/executions/:id", h.GetExecution)
	app.Get("/executions/:id/nodes", h.GetExecutionNodes)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]*models.WorkflowDefinition, 0, len(workflows))

		for _, def := range workflows {
			if def.Status == models.WorkflowStatus(status) {
				filtered = append(filtered, def)
			}
		}

		workflows = filtered
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	definition, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(definition)
}

// CreateWorkflow accepts a full definition document. The document goes
// through schema, struct and graph validation before it is stored as a draft.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	definition, err := h.loader.Load(c.Body())
	if err != nil {
		return validationFailed(c, err)
	}

	if _, err := h.persistence.WorkflowByID(c.Context(), definition.ID); err == nil {
		return conflict(c, "Workflow already exists")
	}

	now := time.Now().UTC()
	definition.Status = models.WorkflowStatusDraft
	definition.Version = 0
	definition.CreatedAt = now
	definition.UpdatedAt = now

	if err := h.persistence.SaveWorkflow(c.Context(), definition); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

// UpdateWorkflow replaces the draft definition. Published versions are
// immutable; the update lands on the draft and takes effect on next publish.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	existing, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	if existing.Status == models.WorkflowStatusArchived {
		return conflict(c, "Workflow is archived")
	}

	definition, err := h.loader.Load(c.Body())
	if err != nil {
		return validationFailed(c, err)
	}

	if definition.ID != id {
		return badRequest(c, "Definition ID does not match URL")
	}

	definition.Status = existing.Status
	definition.Version = existing.Version
	definition.CreatedAt = existing.CreatedAt
	definition.PublishedAt = existing.PublishedAt
	definition.UpdatedAt = time.Now().UTC()

	if err := h.persistence.SaveWorkflow(c.Context(), definition); err != nil {
		return internalError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.persistence.DeleteWorkflow(c.Context(), id); err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	published, err := h.publishing.Publish(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return validationFailed(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.publishing.Archive(c.Context(), id); err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.persistence.ExecutionByID(c.Context(), id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionNodes(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	states, err := h.persistence.NodeStates(c.Context(), id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution_id": id,
		"nodes":        states,
	})
}
