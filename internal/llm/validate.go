package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// citationResultSchema is sent to OpenAI as the structured output format.
// Strict mode requires every property to be listed as required.
var citationResultSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"sources": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page":      map[string]any{"type": "integer"},
					"section":   map[string]any{"type": "string"},
					"exactText": map[string]any{"type": "string"},
					"relevance": map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
					"context":   map[string]any{"type": "string"},
				},
				"required":             []string{"page", "section", "exactText", "relevance", "context"},
				"additionalProperties": false,
			},
		},
		"confidence": map[string]any{"type": "number"},
	},
	"required":             []string{"sources", "confidence"},
	"additionalProperties": false,
}

// citationValidationSchema is what any matcher reply must satisfy. It is
// looser than the output format: smaller models add fields and vary case.
var citationValidationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"sources": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page":      map[string]any{"type": "integer", "minimum": 1},
					"section":   map[string]any{"type": "string"},
					"exactText": map[string]any{"type": "string"},
					"relevance": map[string]any{"type": "string"},
					"context":   map[string]any{"type": "string"},
				},
				"required": []string{"page"},
			},
		},
		"confidence": map[string]any{"type": "number"},
	},
	"required": []string{"sources"},
}

var (
	compiledCitationSchema *jsonschema.Schema
	compileCitationOnce    sync.Once
	compileCitationErr     error
)

func validateCitationJSON(data []byte) error {
	compileCitationOnce.Do(func() {
		compiledCitationSchema, compileCitationErr = CompileSchema(citationValidationSchema)
	})
	if compileCitationErr != nil {
		return compileCitationErr
	}
	return validate(compiledCitationSchema, data)
}

// CompileSchema compiles a JSON schema expressed as a Go map.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
