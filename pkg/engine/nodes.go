package engine

import (
	"fmt"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/nodes/action"
	"github.com/relayflow/relay/pkg/nodes/conditional"
	"github.com/relayflow/relay/pkg/nodes/flow"
	"github.com/relayflow/relay/pkg/nodes/loop"
	"github.com/relayflow/relay/pkg/nodes/switchnode"
	"github.com/relayflow/relay/pkg/nodes/transform"
	"github.com/relayflow/relay/pkg/nodes/trigger"
)

// buildNode constructs the typed node for a spec. The definition passed
// validation before publishing, so a construction failure here means the
// stored definition drifted from the loader.
func (e *Engine) buildNode(spec *models.NodeSpec) (any, error) {
	switch spec.Kind {
	case models.NodeKindTriggerChatCommand:
		return trigger.NewChatCommandNode(spec.ID, spec.Config)
	case models.NodeKindTriggerWebhook:
		return trigger.NewWebhookNode(spec.ID, spec.Config)
	case models.NodeKindTriggerSchedule:
		return trigger.NewScheduleNode(spec.ID, spec.Config)
	case models.NodeKindConditionIf:
		return conditional.NewIfNode(spec.ID, spec.Config, e.eval)
	case models.NodeKindConditionSwitch:
		return switchnode.NewSwitchNode(spec.ID, spec.Config, e.eval)
	case models.NodeKindDataTransform:
		return transform.NewTransformNode(spec.ID, spec.Config, e.eval)
	case models.NodeKindLoopForEach:
		return loop.NewForEachNode(spec.ID, spec.Config, e.eval)
	case models.NodeKindLoopWhile:
		return loop.NewWhileNode(spec.ID, spec.Config, e.eval)
	case models.NodeKindLoopBreak:
		return loop.NewBreakNode(spec.ID, spec.Config)
	case models.NodeKindActionModule:
		return action.NewModuleNode(spec.ID, spec.Config, e.gw, e.eval)
	case models.NodeKindActionWebhook:
		return action.NewWebhookNode(spec.ID, spec.Config, e.gw, e.eval)
	case models.NodeKindActionNotify:
		return action.NewNotifyNode(spec.ID, spec.Config, e.gw, e.eval, e.logger)
	case models.NodeKindActionDelay:
		return action.NewDelayNode(spec.ID, spec.Config)
	case models.NodeKindFlowParallel:
		return flow.NewParallelNode(spec.ID, spec.Config)
	case models.NodeKindFlowMerge:
		return flow.NewMergeNode(spec.ID, spec.Config)
	case models.NodeKindFlowEnd:
		return flow.NewEndNode(spec.ID, spec.Config, e.eval)
	default:
		return nil, fmt.Errorf("unknown node kind %q", spec.Kind)
	}
}
