package graph

import (
	"fmt"
	"sync"

	"github.com/relayflow/relay/pkg/models"
)

// Validator caches build results per workflow id and version. A published
// workflow is immutable, so a cached result never goes stale; draft
// definitions are rebuilt on every call.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*cached
}

type cached struct {
	graph  *Graph
	result *ValidationResult
}

// NewValidator creates an empty validator cache.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*cached)}
}

// Validate builds and validates the definition, reusing the cached result for
// published workflows.
func (v *Validator) Validate(def *models.WorkflowDefinition) (*Graph, *ValidationResult) {
	if def.Status != models.WorkflowStatusActive {
		return Build(def)
	}

	key := cacheKey(def)

	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()

	if ok {
		return entry.graph, entry.result
	}

	g, result := Build(def)

	v.mu.Lock()
	v.cache[key] = &cached{graph: g, result: result}
	v.mu.Unlock()

	return g, result
}

// Invalidate drops the cached result for a workflow version.
func (v *Validator) Invalidate(def *models.WorkflowDefinition) {
	v.mu.Lock()
	delete(v.cache, cacheKey(def))
	v.mu.Unlock()
}

func cacheKey(def *models.WorkflowDefinition) string {
	return fmt.Sprintf("%s@%d", def.ID, def.Version)
}
