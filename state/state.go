// Package state implements AgentState, the concurrent key/value store that is
// the sole source of truth for mode selection (see the mode package) and tool
// gating. Keys are free-form strings mapped to arbitrary JSON-compatible
// values; a recognized subset of keys (see mode.Decide) drives the
// state-to-mode function.
package state

import "sync"

// State is a thread-safe mapping from string keys to JSON-compatible values.
// Reads and writes serialize on a single mutex; a Get always observes either
// the value before or after a concurrent Set, never a torn value, because
// Go map access is never exposed directly to callers.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// New constructs a State seeded with initial, which may be nil. The caller
// retains no reference to initial after construction; New copies it.
func New(initial map[string]any) *State {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &State{values: values}
}

// Get returns the value stored under key and whether it was present.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, overwriting any prior value. Writes are
// last-writer-wins: concurrent Set calls for the same key leave exactly one
// of them visible, with no defined ordering between concurrent callers
// beyond what the caller itself establishes (e.g. by serializing tool
// execution for conflicting keys, per SPEC_FULL.md §4.6).
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
}

// Delete removes key, if present. Deleting an absent key is a no-op.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns a consistent point-in-time copy of the store suitable for
// mode selection: the Mode Controller snapshots once per driver iteration so
// that tool gates and the state-to-mode function observe exactly one version
// of state, even if tools are concurrently writing via Set.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return Snapshot(out)
}

// Snapshot is an immutable point-in-time copy of a State. It implements the
// read-only accessors tool gates and the mode function need without holding
// any lock on the live State.
type Snapshot map[string]any

// Bool interprets the value under key as a boolean per SPEC_FULL.md §6:
// absent is false; a JSON boolean is its own value; any other present,
// non-null value is true. This matches "keys interpreted as booleans
// (false if absent)" in the state-to-mode function.
func (s Snapshot) Bool(key string) bool {
	v, ok := s[key]
	if !ok || v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// Truthy interprets the value under key using the stricter "data_context"
// rule from SPEC_FULL.md §6: present, non-null, and (if a string)
// non-empty.
func (s Snapshot) Truthy(key string) bool {
	v, ok := s[key]
	if !ok || v == nil {
		return false
	}
	if str, ok := v.(string); ok {
		return str != ""
	}
	return true
}

// Get returns the raw value under key and whether it was present.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// Has reports pure key presence, unlike Bool and Truthy: a key set to JSON
// null still counts as present. This matches the "has(key)" guard in
// SPEC_FULL.md §6, which distinguishes "never set" from "set, currently
// null or false."
func (s Snapshot) Has(key string) bool {
	_, ok := s[key]
	return ok
}
