// Package workflow loads, validates and publishes workflow definitions.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relayflow/relay/pkg/graph"
	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/protocol"
)

// ErrInvalidDefinition marks a definition that failed validation. The
// wrapped message carries the individual findings.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Loader turns raw definition documents into validated WorkflowDefinitions.
// Validation runs in stages: JSON Schema on the document, struct tags on the
// decoded model, per-node config validation, then graph validation.
type Loader struct {
	schema    *gojsonschema.Schema
	validate  *validator.Validate
	factories map[models.NodeKind]protocol.NodeFactory
	graphs    *graph.Validator
}

// NewLoader creates a loader with the full node factory set.
func NewLoader() (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition schema: %w", err)
	}

	return &Loader{
		schema:    schema,
		validate:  validator.New(),
		factories: Factories(),
		graphs:    graph.NewValidator(),
	}, nil
}

// Load decodes and fully validates a raw definition document.
func (l *Loader) Load(raw []byte) (*models.WorkflowDefinition, error) {
	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, schemaFindings(result))
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(raw, &definition); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}

	if definition.Status == "" {
		definition.Status = models.WorkflowStatusDraft
	}

	if err := l.Validate(&definition); err != nil {
		return nil, err
	}

	return &definition, nil
}

// Validate runs the model-level validation stages on a decoded definition.
func (l *Loader) Validate(definition *models.WorkflowDefinition) error {
	if err := l.validate.Struct(definition); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}

	for id, node := range definition.Nodes {
		if node.ID != id {
			return fmt.Errorf("%w: node key %q does not match node id %q", ErrInvalidDefinition, id, node.ID)
		}

		factory, ok := l.factories[node.Kind]
		if !ok {
			return fmt.Errorf("%w: node %s has unknown kind %q", ErrInvalidDefinition, id, node.Kind)
		}

		if err := factory.Validate(node.Config); err != nil {
			return fmt.Errorf("%w: node %s config: %s", ErrInvalidDefinition, id, err)
		}
	}

	_, validation := l.graphs.Validate(definition)
	if !validation.IsValid {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, graphFindings(validation))
	}

	return nil
}

func schemaFindings(result *gojsonschema.Result) string {
	findings := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		findings = append(findings, desc.String())
	}

	return strings.Join(findings, "; ")
}

func graphFindings(result *graph.ValidationResult) string {
	findings := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		findings = append(findings, issue.Message)
	}

	return strings.Join(findings, "; ")
}
