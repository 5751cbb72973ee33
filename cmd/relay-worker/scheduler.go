package main

import (
	"context"
	"log/slog"

	"github.com/relayflow/relay/pkg/engine"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/nodes/trigger"
	"github.com/relayflow/relay/pkg/scheduler"
	"github.com/relayflow/relay/pkg/workflow"
)

// startScheduler registers every schedule trigger of the published workflows
// and fires them into the engine.
func startScheduler(
	ctx context.Context,
	logger *slog.Logger,
	repository *workflow.Repository,
	eng *engine.Engine,
) (*scheduler.Scheduler, error) {
	sched := scheduler.New(logger, func(ctx context.Context, workflowID string, triggerData map[string]any) {
		if _, _, err := eng.Submit(ctx, workflowID, triggerData); err != nil {
			logger.ErrorContext(ctx, "Scheduled execution failed to start",
				"workflow_id", workflowID, "error", err)
		}
	})

	published, err := repository.PublishedAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, entry := range published {
		for _, spec := range entry.Definition.TriggerNodes() {
			if spec.Kind != models.NodeKindTriggerSchedule || !spec.Enabled {
				continue
			}

			node, err := trigger.NewScheduleNode(spec.ID, spec.Config)
			if err != nil {
				logger.WarnContext(ctx, "Skipping invalid schedule trigger",
					"workflow_id", entry.Definition.ID, "node_id", spec.ID, "error", err)

				continue
			}

			if err := sched.Register(entry.Definition.ID, spec.ID, node.Spec()); err != nil {
				return nil, err
			}
		}
	}

	sched.Start(ctx)

	logger.InfoContext(ctx, "Scheduler started", "entries", sched.Entries())

	return sched, nil
}
