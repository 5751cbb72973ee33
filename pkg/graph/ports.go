package graph

import "github.com/relayflow/relay/pkg/models"

// Static port tables for each node kind. Switch and merge nodes also accept
// configured dynamic port names, which cannot be checked without the node
// config; for those kinds any named port is accepted here and the node
// constructor performs the config-level check.
var outputPorts = map[models.NodeKind][]string{
	models.NodeKindTriggerChatCommand: {models.PortMain},
	models.NodeKindTriggerWebhook:     {models.PortMain},
	models.NodeKindTriggerSchedule:    {models.PortMain},
	models.NodeKindConditionIf:        {"true", "false", models.PortError},
	models.NodeKindDataTransform:      {"success", models.PortError},
	models.NodeKindLoopForEach:        {"body", "done", models.PortError},
	models.NodeKindLoopWhile:          {"body", "done", models.PortError},
	models.NodeKindLoopBreak:          {},
	models.NodeKindActionModule:       {"success", models.PortError},
	models.NodeKindActionWebhook:      {"success", models.PortError},
	models.NodeKindActionNotify:       {"success", models.PortError},
	models.NodeKindActionDelay:        {"success"},
	models.NodeKindFlowParallel:       {"branch"},
	models.NodeKindFlowMerge:          {"merged", models.PortError},
	models.NodeKindFlowEnd:            {},
}

var inputPorts = map[models.NodeKind][]string{
	models.NodeKindTriggerChatCommand: {},
	models.NodeKindTriggerWebhook:     {},
	models.NodeKindTriggerSchedule:    {},
	models.NodeKindConditionIf:        {models.PortMain},
	models.NodeKindConditionSwitch:    {models.PortMain},
	models.NodeKindDataTransform:      {models.PortMain},
	models.NodeKindLoopForEach:        {models.PortMain},
	models.NodeKindLoopWhile:          {models.PortMain},
	models.NodeKindLoopBreak:          {models.PortMain},
	models.NodeKindActionModule:       {models.PortMain},
	models.NodeKindActionWebhook:      {models.PortMain},
	models.NodeKindActionNotify:       {models.PortMain},
	models.NodeKindActionDelay:        {models.PortMain},
	models.NodeKindFlowParallel:       {models.PortMain},
	models.NodeKindFlowEnd:            {models.PortMain},
}

func portValidForKind(kind models.NodeKind, port string, input bool) bool {
	if !kind.Valid() {
		// Reported separately as an unknown node type.
		return true
	}

	// Dynamic ports: switch outputs are case-defined, merge inputs are
	// branch-defined.
	if !input && kind == models.NodeKindConditionSwitch {
		return port != ""
	}

	if input && kind == models.NodeKindFlowMerge {
		return port != ""
	}

	table := outputPorts
	if input {
		table = inputPorts
	}

	for _, known := range table[kind] {
		if known == port {
			return true
		}
	}

	return false
}
