package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/relayflow/relay/pkg/graph"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
)

// Repository serves validated workflow definitions to the engine. Published
// definitions and their graphs are cached; a version bump is a new cache key,
// so running executions are never affected by republishing.
type Repository struct {
	persistence persistence.Persistence
	loader      *Loader
	graphs      *graph.Validator

	mu    sync.RWMutex
	cache map[string]*Published
}

// Published pairs a frozen definition with its validated graph.
type Published struct {
	Definition *models.WorkflowDefinition
	Graph      *graph.Graph
}

// NewRepository creates a repository over the persistence layer.
func NewRepository(persistence persistence.Persistence, loader *Loader) *Repository {
	return &Repository{
		persistence: persistence,
		loader:      loader,
		graphs:      graph.NewValidator(),
		cache:       make(map[string]*Published),
	}
}

// Published returns the active definition and graph for the workflow id.
func (r *Repository) Published(ctx context.Context, workflowID string) (*Published, error) {
	r.mu.RLock()
	entry, ok := r.cache[workflowID]
	r.mu.RUnlock()

	if ok {
		return entry, nil
	}

	definition, err := r.persistence.PublishedWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	g, validation := r.graphs.Validate(definition)
	if !validation.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, graphFindings(validation))
	}

	entry = &Published{Definition: definition, Graph: g}

	r.mu.Lock()
	r.cache[workflowID] = entry
	r.mu.Unlock()

	return entry, nil
}

// PublishedAll returns every active workflow, validated. Used by the worker
// to register schedules and route chat commands.
func (r *Repository) PublishedAll(ctx context.Context) ([]*Published, error) {
	definitions, err := r.persistence.Workflows(ctx)
	if err != nil {
		return nil, err
	}

	var published []*Published

	for _, definition := range definitions {
		if definition.Status != models.WorkflowStatusActive {
			continue
		}

		entry, err := r.Published(ctx, definition.ID)
		if err != nil {
			return nil, err
		}

		published = append(published, entry)
	}

	return published, nil
}

// Invalidate drops the cache entry for a workflow, forcing a reload.
func (r *Repository) Invalidate(workflowID string) {
	r.mu.Lock()
	delete(r.cache, workflowID)
	r.mu.Unlock()
}
