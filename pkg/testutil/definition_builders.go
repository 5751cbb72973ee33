// Package testutil provides test data builders shared across package tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayflow/relay/pkg/models"
)

// Node creates a NodeSpec with defaults that can be overridden.
func Node(id string, kind models.NodeKind, overrides ...func(*models.NodeSpec)) *models.NodeSpec {
	node := &models.NodeSpec{
		ID:      id,
		Kind:    kind,
		Label:   "Test " + string(kind),
		Config:  map[string]any{},
		Enabled: true,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithConfig sets the node config.
func WithConfig(config map[string]any) func(*models.NodeSpec) {
	return func(node *models.NodeSpec) {
		node.Config = config
	}
}

// Disabled marks the node disabled.
func Disabled() func(*models.NodeSpec) {
	return func(node *models.NodeSpec) {
		node.Enabled = false
	}
}

// Connect creates an enabled connection between two node ports.
func Connect(sourceNode, sourcePort, targetNode, targetPort string) *models.Connection {
	return &models.Connection{
		ID:         uuid.New().String(),
		SourceNode: sourceNode,
		SourcePort: sourcePort,
		TargetNode: targetNode,
		TargetPort: targetPort,
		Enabled:    true,
	}
}

// GuardedConnect creates a connection with a guard expression.
func GuardedConnect(sourceNode, sourcePort, targetNode, targetPort, guard string) *models.Connection {
	conn := Connect(sourceNode, sourcePort, targetNode, targetPort)
	conn.Guard = guard

	return conn
}

// Definition creates an active workflow definition from nodes and connections.
func Definition(id string, nodes []*models.NodeSpec, connections []*models.Connection, overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	nodeMap := make(map[string]*models.NodeSpec, len(nodes))
	for _, node := range nodes {
		nodeMap[node.ID] = node
	}

	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:          id,
		Name:        "Test workflow " + id,
		Version:     1,
		Status:      models.WorkflowStatusActive,
		Nodes:       nodeMap,
		Connections: connections,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithVariables sets the global variables.
func WithVariables(variables map[string]any) func(*models.WorkflowDefinition) {
	return func(definition *models.WorkflowDefinition) {
		definition.Variables = variables
	}
}

// WithLimits sets the execution limits.
func WithLimits(limits models.ExecutionLimits) func(*models.WorkflowDefinition) {
	return func(definition *models.WorkflowDefinition) {
		definition.Limits = limits
	}
}
