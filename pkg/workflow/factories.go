package workflow

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
	"github.com/relayflow/relay/pkg/protocol"
)

// Factories returns the factory for every supported node kind. The loader
// uses these for config validation and schema metadata; execution dispatch
// is the engine's concern.
func Factories() map[models.NodeKind]protocol.NodeFactory {
	factories := map[models.NodeKind]protocol.NodeFactory{}

	for _, factory := range []protocol.NodeFactory{
		trigger.NewChatCommandFactory(),
		trigger.NewWebhookFactory(),
		trigger.NewScheduleFactory(),
		conditional.NewFactory(),
		switchnode.NewFactory(),
		transform.NewFactory(),
		loop.NewForEachFactory(),
		loop.NewWhileFactory(),
		loop.NewBreakFactory(),
		action.NewModuleFactory(),
		action.NewWebhookFactory(),
		action.NewNotifyFactory(),
		action.NewDelayFactory(),
		flow.NewParallelFactory(),
		flow.NewMergeFactory(),
		flow.NewEndFactory(),
	} {
		kind := factory.Kind()
		if _, dup := factories[kind]; dup {
			panic(fmt.Sprintf("duplicate node factory for kind %s", kind))
		}

		factories[kind] = factory
	}

	return factories
}
