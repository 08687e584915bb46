package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// compileSchema compiles a Draft 2020-12 schema, caching by schema text.
// Schemas are data supplied at registration time, not code.
func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateAgainstSchema validates a JSON payload against a schema. The
// returned string is empty when the payload is valid, otherwise a summary
// suitable for feeding back to the model.
func ValidateAgainstSchema(schema json.RawMessage, payload []byte) (string, error) {
	compiled, err := compileSchema(schema)
	if err != nil {
		return "", fmt.Errorf("tools: compile schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("tools: decode input: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Sprintf("Tool input validation failed: %v", err), nil
	}
	return "", nil
}
