// Package schema wraps github.com/santhosh-tekuri/jsonschema/v6 with a
// per-tool-name compiled-schema cache, used by the Tool Registry to validate
// tool schema documents at registration time and by the Tool Executor Loop
// to validate tool-call arguments before Execute is invoked
// (SPEC_FULL.md §4.4a).
//
// Grounded on registry/service.go's validatePayloadJSONAgainstSchema, which
// compiles a jsonschema.Schema from a raw document and validates a decoded
// payload against it; this package adds the compiled-schema cache the
// teacher does not need because its payload schemas are codegen-produced
// once and validated at compile time, not revalidated per call.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches JSON Schema documents, keyed by an
// arbitrary name the caller controls (typically a tool name).
type Validator struct {
	mu     sync.RWMutex
	byName map[string]*jsonschema.Schema
}

// NewValidator constructs an empty Validator.
func NewValidator() *Validator {
	return &Validator{byName: make(map[string]*jsonschema.Schema)}
}

// Compile compiles doc (a JSON Schema document represented as a Go value
// tree, typically map[string]any) and caches it under name, replacing any
// previously compiled schema for that name. It returns an error if doc is
// not a well-formed JSON Schema document.
func (v *Validator) Compile(name string, doc map[string]any) error {
	resourceName := fmt.Sprintf("%s.json", name)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return fmt.Errorf("schema: add resource %q: %w", name, err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("schema: compile %q: %w", name, err)
	}

	v.mu.Lock()
	v.byName[name] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks value (the JSON-decoded payload, typically
// map[string]any) against the schema previously compiled under name. It
// returns an error wrapping jsonschema's ValidationError if value does not
// conform, or if no schema was ever compiled for name.
func (v *Validator) Validate(name string, value any) error {
	v.mu.RLock()
	compiled, ok := v.byName[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema: no compiled schema for %q", name)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("schema: %q: %w", name, err)
	}
	return nil
}

// ValidateJSON decodes raw as JSON and validates it against the schema
// compiled under name. It is a convenience for callers holding a raw
// arguments string rather than an already-decoded value.
func (v *Validator) ValidateJSON(name string, raw []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("schema: decode arguments for %q: %w", name, err)
	}
	if err := v.Validate(name, decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// Has reports whether a schema has been compiled under name.
func (v *Validator) Has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.byName[name]
	return ok
}
