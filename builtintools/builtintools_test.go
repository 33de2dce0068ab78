package builtintools_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricloop/agentrt/builtintools"
	"github.com/metricloop/agentrt/mode"
	"github.com/metricloop/agentrt/state"
	"github.com/metricloop/agentrt/tools"
)

type fakeState struct {
	values map[string]any
}

func newFakeState() *fakeState { return &fakeState{values: map[string]any{}} }
func (f *fakeState) Get(key string) (any, bool)  { v, ok := f.values[key]; return v, ok }
func (f *fakeState) Set(key string, value any)   { f.values[key] = value }
func (f *fakeState) Delete(key string)           { delete(f.values, key) }

func TestSearchDataCatalog_SetsStateOnSuccess(t *testing.T) {
	d := builtintools.SearchDataCatalog()
	st := newFakeState()
	result, err := d.Execute(tools.ExecContext{
		Params: map[string]any{"query": "revenue"},
		State:  st,
		Emit:   func(any) {},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, st.values["searched_data_catalog"].(bool))
	assert.NotEmpty(t, st.values["data_context"])
}

func TestSearchDataCatalog_GateClosesAfterSearch(t *testing.T) {
	gate := builtintools.SearchDataCatalogGate
	assert.True(t, gate(state.Snapshot{}))
	assert.False(t, gate(state.Snapshot{"searched_data_catalog": true}))
}

func TestCreatePlan_GateRequiresDataContextAndNoExistingPlan(t *testing.T) {
	gate := builtintools.CreatePlanGate
	assert.False(t, gate(state.Snapshot{}))
	assert.True(t, gate(state.Snapshot{"data_context": "ctx"}))
	assert.False(t, gate(state.Snapshot{"data_context": "ctx", "plan_available": true}))
}

func TestCreatePlan_SetsPlanAvailable(t *testing.T) {
	d := builtintools.CreatePlan()
	st := newFakeState()
	_, err := d.Execute(tools.ExecContext{
		Params: map[string]any{"markdown": "# Plan\n1. Do the thing"},
		State:  st,
		Emit:   func(any) {},
	})
	require.NoError(t, err)
	assert.True(t, st.values["plan_available"].(bool))
}

func TestWriteMetricFile_RequiresNameAndYMLContent(t *testing.T) {
	d := builtintools.WriteMetricFile()
	_, err := d.Execute(tools.ExecContext{
		Params: map[string]any{"files": []any{map[string]any{"name": "revenue"}}},
		State:  newFakeState(),
		Emit:   func(any) {},
	})
	require.Error(t, err)
}

func TestWriteMetricFile_EmitsPerFileProgress(t *testing.T) {
	d := builtintools.WriteMetricFile()
	var emitted []any
	_, err := d.Execute(tools.ExecContext{
		Params: map[string]any{"files": []any{
			map[string]any{"name": "revenue", "yml_content": "metric: revenue\n"},
			map[string]any{"name": "churn", "yml_content": "metric: churn\n"},
		}},
		State: newFakeState(),
		Emit:  func(p any) { emitted = append(emitted, p) },
	})
	require.NoError(t, err)
	assert.Len(t, emitted, 2)
}

func TestRequestReview_SetsReviewNeeded(t *testing.T) {
	d := builtintools.RequestReview()
	st := newFakeState()
	_, err := d.Execute(tools.ExecContext{
		Params: map[string]any{"reason": "double-check math"},
		State:  st,
		Emit:   func(any) {},
	})
	require.NoError(t, err)
	assert.True(t, st.values["review_needed"].(bool))
}

func TestDone_RequiresSummary(t *testing.T) {
	d := builtintools.Done()
	_, err := d.Execute(tools.ExecContext{Params: map[string]any{}, State: newFakeState(), Emit: func(any) {}})
	require.Error(t, err)
}

func TestTable_EveryModeHasDoneExceptInitializing(t *testing.T) {
	table := builtintools.Table("")
	for m, cfg := range table {
		if m == mode.Initializing {
			assert.Empty(t, cfg.TerminatingTools)
			continue
		}
		assert.Contains(t, cfg.TerminatingTools, "done")
		assert.NotEmpty(t, cfg.ModelID)

		registry := tools.NewRegistry(nil)
		cfg.ToolLoader(registry)
		assert.Contains(t, registry.Names(), "done")
	}
}

func TestTable_DefaultsModelIDWhenEmpty(t *testing.T) {
	table := builtintools.Table("")
	assert.Equal(t, builtintools.DefaultModelID, table[mode.DataCatalogSearch].ModelID)
}
