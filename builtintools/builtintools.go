// Package builtintools implements the five default tools and the default
// per-mode Configuration table named in SPEC_FULL.md §4.7a: a data-catalog
// search, a markdown planning step, a metric-file writer, a review gate, and
// a terminating "done" tool.
//
// Grounded on the shape of runtime/agent/runtime/agent_tools.go (the
// execute/gate split a tool.Descriptor is built from) and
// runtime/agent/tools/spec.go's Name/Description naming convention, adapted
// from agent-as-tool configuration to plain in-process function execution —
// this module has no nested-agent or Temporal-activity dispatch to delegate
// to.
package builtintools

import (
	"fmt"

	"github.com/metricloop/agentrt/state"
	"github.com/metricloop/agentrt/tools"
)

func jsonSchema(name, description string, parameters map[string]any) map[string]any {
	return map[string]any{
		"name":        name,
		"description": description,
		"parameters":  parameters,
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// getString reads a required string field out of a tool's decoded arguments,
// returning an error the executor loop turns into a ToolError when absent.
func getString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("builtintools: missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("builtintools: field %q must be a string", key)
	}
	return s, nil
}

// not negates a Gate.
func not(g tools.Gate) tools.Gate {
	return func(s state.Snapshot) bool { return !g(s) }
}

func boolKey(key string) tools.Gate {
	return func(s state.Snapshot) bool { return s.Bool(key) }
}

func truthyKey(key string) tools.Gate {
	return func(s state.Snapshot) bool { return s.Truthy(key) }
}

func and(gates ...tools.Gate) tools.Gate {
	return func(s state.Snapshot) bool {
		for _, g := range gates {
			if !g(s) {
				return false
			}
		}
		return true
	}
}
