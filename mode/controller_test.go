package mode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/tools"
)

func TestController_Transition_LoadsToolsForDecidedMode(t *testing.T) {
	registry := tools.NewRegistry(nil)
	table := Table{
		DataCatalogSearch: {
			Prompt:  "search the catalog",
			ModelID: "test-model",
			ToolLoader: func(r *tools.Registry) {
				require.NoError(t, r.Add(tools.Descriptor{Name: "search_data_catalog"}))
			},
			TerminatingTools: map[string]struct{}{"done": {}},
		},
	}
	ctrl := NewController(registry, table, nil, nil)

	snap := snapshotOf(map[string]any{"user_prompt": "hello"})
	result := ctrl.Transition(context.Background(), snap, "run-1", 1)

	assert.Equal(t, DataCatalogSearch, result.Mode)
	assert.Equal(t, "search the catalog", result.Prompt)
	assert.Equal(t, "test-model", result.ModelID)
	assert.Contains(t, result.TerminatingTools, "done")
	assert.Equal(t, []string{"search_data_catalog"}, registry.Names())
	assert.Equal(t, DataCatalogSearch, ctrl.Current())
}

func TestController_Transition_ClearsPreviousModeTools(t *testing.T) {
	registry := tools.NewRegistry(nil)
	table := Table{
		DataCatalogSearch: {
			ToolLoader: func(r *tools.Registry) {
				_ = r.Add(tools.Descriptor{Name: "search_data_catalog"})
			},
		},
		Planning: {
			ToolLoader: func(r *tools.Registry) {
				_ = r.Add(tools.Descriptor{Name: "create_plan"})
			},
		},
	}
	ctrl := NewController(registry, table, nil, nil)

	ctrl.Transition(context.Background(), snapshotOf(map[string]any{"user_prompt": "hi"}), "run-1", 1)
	require.Equal(t, []string{"search_data_catalog"}, registry.Names())

	planningSnap := snapshotOf(map[string]any{
		"user_prompt":           "hi",
		"searched_data_catalog": true,
		"data_context":          "ctx",
	})
	ctrl.Transition(context.Background(), planningSnap, "run-1", 2)
	assert.Equal(t, []string{"create_plan"}, registry.Names())
}

func TestController_Transition_EmitsModeChanged(t *testing.T) {
	registry := tools.NewRegistry(nil)
	bus := eventbus.New(4)
	ch, unsub := bus.Subscribe()
	defer unsub()

	ctrl := NewController(registry, Table{}, bus, nil)
	ctrl.Transition(context.Background(), snapshotOf(nil), "run-1", 1)

	evt := <-ch
	changed, ok := evt.Payload.(eventbus.ModeChanged)
	require.True(t, ok)
	assert.Equal(t, "", changed.From)
	assert.Equal(t, string(Initializing), changed.To)
}
