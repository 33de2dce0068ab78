package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metricloop/agentrt/state"
)

func TestState_GetSetDelete(t *testing.T) {
	s := state.New(nil)

	_, ok := s.Get("k")
	assert.False(t, ok)

	s.Set("k", "v")
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestState_New_CopiesInitialMap(t *testing.T) {
	initial := map[string]any{"k": "v"}
	s := state.New(initial)
	initial["k"] = "mutated"

	v, _ := s.Get("k")
	assert.Equal(t, "v", v)
}

func TestSnapshot_Bool(t *testing.T) {
	snap := state.New(map[string]any{
		"explicit_true":    true,
		"explicit_false":   false,
		"non_bool_present": "anything",
		"null_value":       nil,
	}).Snapshot()

	assert.False(t, snap.Bool("never_set"))
	assert.True(t, snap.Bool("explicit_true"))
	assert.False(t, snap.Bool("explicit_false"))
	assert.True(t, snap.Bool("non_bool_present"))
	assert.False(t, snap.Bool("null_value"))
}

func TestSnapshot_Truthy(t *testing.T) {
	snap := state.New(map[string]any{
		"empty_string": "",
		"non_empty":    "value",
		"null_value":   nil,
		"zero_int":     0,
	}).Snapshot()

	assert.False(t, snap.Truthy("never_set"))
	assert.False(t, snap.Truthy("empty_string"))
	assert.True(t, snap.Truthy("non_empty"))
	assert.False(t, snap.Truthy("null_value"))
	assert.True(t, snap.Truthy("zero_int"))
}

func TestSnapshot_Has_PureKeyPresence(t *testing.T) {
	snap := state.New(map[string]any{
		"null_value":   nil,
		"false_value":  false,
		"empty_string": "",
	}).Snapshot()

	assert.True(t, snap.Has("null_value"))
	assert.True(t, snap.Has("false_value"))
	assert.True(t, snap.Has("empty_string"))
	assert.False(t, snap.Has("never_set"))

	// Has diverges from Bool precisely on the null-but-present case.
	assert.False(t, snap.Bool("null_value"))
	assert.True(t, snap.Has("null_value"))
}

func TestSnapshot_Get(t *testing.T) {
	snap := state.New(map[string]any{"k": 42}).Snapshot()

	v, ok := snap.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = snap.Get("missing")
	assert.False(t, ok)
}
