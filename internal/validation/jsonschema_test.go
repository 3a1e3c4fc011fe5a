package validation

import (
	"sync"
	"testing"

	"github.com/rendis/flowos/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.graphSchema)
}

// --- ValidateJSON ---

func TestValidateJSON_MinimalValid(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateJSON([]byte(`{"nodes": [{"id": "n1"}]}`)))
}

func TestValidateJSON_FullValid(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	doc := `{
		"nodes": [
			{"id": "n1", "type": "entry", "label": "Start", "position": {"x": 250, "y": 50}},
			{"id": "n2", "type": "exit", "label": "End", "description": "done", "position": {"x": 250.5, "y": 200}}
		],
		"edges": [{"id": "e1", "source": "n1", "target": "n2", "label": "next"}]
	}`
	assert.NoError(t, v.ValidateJSON([]byte(doc)))
}

func TestValidateJSON_Rejections(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"missing nodes", `{"edges": []}`},
		{"nodes not array", `{"nodes": {"id": "n1"}}`},
		{"node without id", `{"nodes": [{"label": "x"}]}`},
		{"empty node id", `{"nodes": [{"id": ""}]}`},
		{"unknown node type", `{"nodes": [{"id": "n1", "type": "decision"}]}`},
		{"position missing y", `{"nodes": [{"id": "n1", "position": {"x": 1}}]}`},
		{"position string coordinate", `{"nodes": [{"id": "n1", "position": {"x": "1", "y": 2}}]}`},
		{"edge without target", `{"nodes": [{"id": "n1"}], "edges": [{"source": "n1"}]}`},
		{"top level array", `[{"id": "n1"}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateJSON([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidateJSON_NotJSON(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateJSON([]byte(`{nodes:`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestValidateJSON_ErrorDetails(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateJSON([]byte(`{"nodes": [{"id": ""}, {"id": "n2", "type": "bogus"}]}`))
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	require.NotNil(t, flowErr.Details)
	violations, ok := flowErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
	assert.Contains(t, flowErr.Message, "schema validation failed")
}

func TestValidateDocument_Nil(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDocument(nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateDocument_FromGoValue(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	g := &schema.GraphStructure{
		Nodes: []schema.GraphNode{{ID: "step-1", Type: schema.StepTypeEntry, Label: "Start", Position: schema.Position{X: 1, Y: 2}}},
		Edges: []schema.GraphEdge{},
	}
	doc, err := ToJSONValue(g)
	require.NoError(t, err)
	assert.NoError(t, v.ValidateDocument(doc))
}

// --- ValidateWith ---

func TestValidateWith_EmptySchema(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateWith(map[string]any{"a": 1}, nil))
}

func TestValidateWith_CustomSchema(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	custom := []byte(`{"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}`)

	ok, err := ToJSONValue(map[string]any{"name": "pipeline"})
	require.NoError(t, err)
	assert.NoError(t, v.ValidateWith(ok, custom))

	bad, err := ToJSONValue(map[string]any{"other": true})
	require.NoError(t, err)
	assert.Error(t, v.ValidateWith(bad, custom))
}

func TestValidateWith_InvalidSchema(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateWith(map[string]any{}, []byte(`{"type": 12`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schema")
}

func TestValidateWith_ConcurrentCache(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	custom := []byte(`{"type": "object"}`)
	doc, err := ToJSONValue(map[string]any{"k": "v"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateWith(doc, custom))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
