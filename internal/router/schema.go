package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrArgsInvalid wraps a tool call's argument-schema validation failure.
var ErrArgsInvalid = fmt.Errorf("router: tool arguments failed schema validation")

var schemaCache sync.Map // raw schema bytes -> *jsonschema.Schema

// compileToolSchema compiles and caches an external tool's JSON input
// schema, keyed by its raw bytes so identical schemas across servers share
// one compiled form.
func compileToolSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateToolArgs validates args against an external tool's declared input
// schema. A tool with no schema (empty raw) is not validated.
func validateToolArgs(raw json.RawMessage, args map[string]any) error {
	if len(raw) == 0 {
		return nil
	}

	schema, err := compileToolSchema(raw)
	if err != nil {
		return fmt.Errorf("router: compile tool schema: %w", err)
	}

	// jsonschema.Validate expects plain JSON values (map[string]any with
	// float64 numbers), so round-trip args through encoding/json rather
	// than handing it the map straight off the dispatcher.
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("router: encode tool arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("router: decode tool arguments: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrArgsInvalid, "tool", err)
	}
	return nil
}
