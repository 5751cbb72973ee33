// Package scheduler runs the cron schedules registered by schedule trigger
// nodes and fires them into the engine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// FireCallback is invoked when a schedule fires. The trigger data carries the
// schedule spec and the fire time.
type FireCallback func(ctx context.Context, workflowID string, triggerData map[string]any)

// Scheduler wraps one cron runner. Entries are keyed by workflow and trigger
// node so a workflow republish can replace its schedules.
type Scheduler struct {
	logger   *slog.Logger
	callback FireCallback

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

// New creates a scheduler that fires into the given callback.
func New(logger *slog.Logger, callback FireCallback) *Scheduler {
	return &Scheduler{
		logger:   logger.With("module", "scheduler"),
		callback: callback,
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
	}
}

// Register adds or replaces the schedule for a workflow trigger node.
func (s *Scheduler) Register(workflowID, nodeID, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := workflowID + "/" + nodeID

	if entryID, ok := s.entries[key]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, key)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()

		s.logger.InfoContext(ctx, "Schedule fired",
			"workflow_id", workflowID, "node_id", nodeID, "schedule", spec)

		s.callback(ctx, workflowID, map[string]any{
			"schedule": spec,
			"node_id":  nodeID,
			"fired_at": time.Now().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for workflow %s: %w", spec, workflowID, err)
	}

	s.entries[key] = entryID

	return nil
}

// Unregister removes every schedule registered for the workflow.
func (s *Scheduler) Unregister(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := workflowID + "/"

	for key, entryID := range s.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			s.cron.Remove(entryID)
			delete(s.entries, key)
		}
	}
}

// Start begins firing schedules.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.cron.Start()
	s.started = true

	s.logger.InfoContext(ctx, "Scheduler started", "entries", len(s.entries))
}

// Stop stops firing and waits for in-flight fire callbacks to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.started = false

	s.logger.InfoContext(ctx, "Scheduler stopped")
}

// Entries returns the number of registered schedules.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
