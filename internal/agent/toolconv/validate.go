package toolconv

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledSchemas caches compiled schemas keyed by their raw text. Tool
// schemas are static for the life of the process, so the cache is unbounded.
var compiledSchemas sync.Map

// ValidateInput checks a tool call's input against the tool's declared
// schema. A nil error means the input may be dispatched. Schemas that fail
// to compile reject the input, since an unverifiable contract should not be
// silently waved through.
func ValidateInput(schema, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("tool schema does not compile: %w", err)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("tool input is not valid JSON: %w", err)
	}

	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("tool input rejected by schema: %w", err)
	}
	return nil
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := compiledSchemas.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	compiledSchemas.Store(key, compiled)
	return compiled, nil
}
