package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
)

// PublishingService moves workflows through their lifecycle. Publishing
// validates the definition, bumps the version and freezes it; executions
// started against a version keep it until they finish.
type PublishingService struct {
	persistence persistence.Persistence
	loader      *Loader
	repository  *Repository
}

// NewPublishingService creates a publishing service.
func NewPublishingService(persistence persistence.Persistence, loader *Loader, repository *Repository) *PublishingService {
	return &PublishingService{
		persistence: persistence,
		loader:      loader,
		repository:  repository,
	}
}

// Publish validates the draft and activates it under a new version.
func (s *PublishingService) Publish(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow for publishing: %w", err)
	}

	if definition.Status == models.WorkflowStatusArchived {
		return nil, fmt.Errorf("workflow %s is archived", workflowID)
	}

	if err := s.loader.Validate(definition); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	definition.Version++
	definition.Status = models.WorkflowStatusActive
	definition.UpdatedAt = now
	definition.PublishedAt = &now

	if err := s.persistence.SaveWorkflow(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save published workflow: %w", err)
	}

	s.repository.Invalidate(workflowID)

	return definition, nil
}

// Archive retires the workflow; new executions are refused, running ones
// finish on their pinned version.
func (s *PublishingService) Archive(ctx context.Context, workflowID string) error {
	definition, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to get workflow for archiving: %w", err)
	}

	definition.Status = models.WorkflowStatusArchived
	definition.UpdatedAt = time.Now().UTC()

	if err := s.persistence.SaveWorkflow(ctx, definition); err != nil {
		return fmt.Errorf("failed to save archived workflow: %w", err)
	}

	s.repository.Invalidate(workflowID)

	return nil
}
