package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/flowos/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const graphSchemaURL = "https://flowos.dev/schemas/graph.json"

// graphSchemaJSON is the JSON Schema for an externally produced graph.
// Positions and node types are optional; the importer fills them in.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowos.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["entry", "intermediate", "exit"]
        },
        "position": { "$ref": "#/$defs/position" },
        "label": { "type": "string" },
        "description": { "type": "string" }
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "label": { "type": "string" }
      }
    },
    "position": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator checks graph documents against the graph JSON Schema
// (Draft 2020-12). It is safe for concurrent use.
type SchemaValidator struct {
	graphSchema *jsonschema.Schema

	// mu guards the cache of caller-supplied schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator creates a SchemaValidator with the graph schema pre-compiled.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource(graphSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}

	compiled, err := c.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &SchemaValidator{
		graphSchema: compiled,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates an already decoded JSON document (as produced by
// jsonschema.UnmarshalJSON or ToJSONValue) against the graph schema.
func (v *SchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph document is empty")
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateJSON decodes raw JSON and validates it against the graph schema.
func (v *SchemaValidator) ValidateJSON(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "graph document is not valid JSON").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateWith validates doc against a caller-supplied schema. Compiled
// schemas are cached by their source text.
func (v *SchemaValidator) ValidateWith(doc any, schemaBytes []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(schemaBytes)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *SchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("flowos://schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// ToJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, which the jsonschema library requires.
func ToJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// every leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("schema validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
