// Package tools implements the Tool Registry (SPEC_FULL.md §4.2): a typed,
// name-keyed collection of tool descriptors, each with a JSON schema, a
// pure gate over AgentState, and an executor. The registry is rebuilt on
// every mode transition by the mode package's Controller.
//
// Registry mutation/enumeration discipline is grounded on
// runtime/registry/manager.go's exclusive-mutation, read-locked-enumeration
// pattern; ArtifactsMode (artifacts.go) is adapted from
// runtime/agent/tools/artifacts.go.
package tools

import (
	"fmt"
	"sync"

	"github.com/metricloop/agentrt/schema"
	"github.com/metricloop/agentrt/state"
)

// Gate is the pure predicate over AgentState that decides whether a tool is
// currently exposed to the model. Gates must be synchronous and
// side-effect-free: SPEC_FULL.md §9 requires gate evaluation to be pure and
// synchronous with respect to the state snapshot used to pick a mode.
type Gate func(state.Snapshot) bool

// AlwaysEnabled is a Gate that exposes a tool regardless of state.
func AlwaysEnabled(state.Snapshot) bool { return true }

// Executor runs one tool call. params is the already-validated,
// JSON-decoded arguments object; toolCallID correlates the result back to
// the originating Assistant tool call; caller exposes the AgentFacade
// capability (get/set/delete state, publish interim progress) described in
// SPEC_FULL.md §9.
type Executor func(ctx ExecContext) (result any, err error)

// ExecContext bundles what an Executor needs without exposing the Agent
// object itself, per the AgentFacade design note in SPEC_FULL.md §9.
type ExecContext struct {
	// ToolCallID correlates the result to the originating Assistant tool call.
	ToolCallID string
	// Params is the decoded, schema-validated argument object.
	Params map[string]any
	// State is the facade's narrow view of AgentState: Get/Set/Delete only.
	State AgentStateFacade
	// Emit publishes an interim progress event carrying arbitrary JSON,
	// used by tools that stream their own output (SPEC_FULL.md §4.6 step 4).
	Emit func(payload any)
}

// AgentStateFacade is the minimal capability tools receive to read and
// mutate AgentState, avoiding a strong ownership cycle between tools and
// the Agent that owns them (SPEC_FULL.md §9).
type AgentStateFacade interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// Descriptor is one registered tool: name, JSON schema, gate, and executor.
type Descriptor struct {
	// Name is the stable tool identifier presented to the model.
	Name string
	// Description is human-readable context shown in the tool's schema.
	Description string
	// JSONSchema is the OpenAI-style tool schema object (name, description,
	// parameters) sent to the provider when the gate passes.
	JSONSchema map[string]any
	// ParameterSchema is the JSON Schema for the tool's arguments object,
	// used by the Schema Validator (SPEC_FULL.md §4.4a) before Execute is
	// invoked. It is usually JSONSchema["parameters"], split out so the
	// validator does not need to know the OpenAI wrapper shape.
	ParameterSchema map[string]any
	// Gate decides whether this tool is exposed given the current state.
	Gate Gate
	// Execute runs the tool. It must be safe to call concurrently with
	// other tools in the same batch (SPEC_FULL.md §4.6 step 3).
	Execute Executor
	// Artifacts tags whether this tool produces UI artifacts, adapted from
	// the teacher's ArtifactsMode. The Streaming Parser does not read it.
	Artifacts ArtifactsMode
}

// Registry is the mutable, name-keyed collection of tool descriptors for one
// Agent. It is cleared and repopulated on every mode transition.
type Registry struct {
	validator *schema.Validator

	mu    sync.RWMutex
	byName map[string]Descriptor
	order  []string // preserves registration order for enabled_schemas
}

// NewRegistry constructs an empty Registry. validator may be nil, in which
// case descriptor JSON schemas are not pre-validated at Add time (tests
// commonly do this to keep fixtures terse).
func NewRegistry(validator *schema.Validator) *Registry {
	return &Registry{validator: validator, byName: make(map[string]Descriptor)}
}

// Add registers d, overwriting any existing descriptor with the same name.
// If a validator was supplied at construction, Add compiles d.ParameterSchema
// once and returns an error if it is not a well-formed JSON Schema document,
// so a malformed tool schema fails registration instead of surfacing later
// as an opaque provider error.
func (r *Registry) Add(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tools: descriptor name is required")
	}
	if r.validator != nil && d.ParameterSchema != nil {
		if err := r.validator.Compile(d.Name, d.ParameterSchema); err != nil {
			return fmt.Errorf("tools: invalid schema for %q: %w", d.Name, err)
		}
	}
	if d.Gate == nil {
		d.Gate = AlwaysEnabled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
	return nil
}

// Remove unregisters the tool named name, if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clear removes every registered tool. The Mode Controller calls this at
// the start of every mode transition before the mode's tool_loader
// repopulates the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]Descriptor)
	r.order = nil
}

// Lookup returns the descriptor for name, if currently registered,
// regardless of its gate. The executor loop uses this (not EnabledSchemas)
// because a tool call may legitimately target a tool whose gate has since
// flipped closed within the same batch.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// EnabledSchemas evaluates every registered descriptor's gate against snap
// and returns the JSON schemas of those that pass, in registration order.
// Tools failing the gate are omitted entirely from the list the model sees.
func (r *Registry) EnabledSchemas(snap state.Snapshot) []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		d := r.byName[name]
		if d.Gate(snap) {
			out = append(out, d.JSONSchema)
		}
	}
	return out
}

// Names returns every currently registered tool name in registration order,
// regardless of gate state.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
