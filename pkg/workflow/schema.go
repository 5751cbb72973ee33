package workflow

// definitionSchema is the JSON Schema a raw workflow document must satisfy
// before it is decoded. Structural checks only; semantic validation (node
// kinds, ports, cycles) happens on the decoded model.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "name", "nodes", "connections"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"version": {"type": "integer", "minimum": 0},
		"status": {"enum": ["draft", "active", "archived"]},
		"nodes": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"type": "object",
				"required": ["id", "kind"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"kind": {"type": "string", "pattern": "^[a-z_]+:[a-z_]+$"},
					"label": {"type": "string"},
					"config": {"type": "object"},
					"enabled": {"type": "boolean"}
				}
			}
		},
		"connections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "source_node", "source_port", "target_node", "target_port"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"source_node": {"type": "string", "minLength": 1},
					"source_port": {"type": "string", "minLength": 1},
					"target_node": {"type": "string", "minLength": 1},
					"target_port": {"type": "string", "minLength": 1},
					"enabled": {"type": "boolean"},
					"guard": {"type": "string"}
				}
			}
		},
		"global_variables": {"type": "object"},
		"limits": {
			"type": "object",
			"properties": {
				"timeout": {"type": ["string", "number"]},
				"max_retries": {"type": "integer", "minimum": 0},
				"max_parallel": {"type": "integer", "minimum": 1},
				"max_operations": {"type": "integer", "minimum": 1},
				"max_loop_iterations": {"type": "integer", "minimum": 1},
				"max_loop_depth": {"type": "integer", "minimum": 1}
			}
		},
		"metadata": {"type": "object"}
	}
}`
