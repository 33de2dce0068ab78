package toolexec_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/message"
	"github.com/metricloop/agentrt/schema"
	"github.com/metricloop/agentrt/state"
	"github.com/metricloop/agentrt/toolexec"
	"github.com/metricloop/agentrt/tools"
)

func nextSeq() func() uint64 {
	var n uint64
	return func() uint64 { n++; return n }
}

func paramsSchema() map[string]any {
	return map[string]any{"type": "object"}
}

func TestLoop_Run_ExecutesAndOrdersResults(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	require.NoError(t, registry.Add(tools.Descriptor{
		Name:            "search_data_catalog",
		ParameterSchema: paramsSchema(),
		Execute: func(ctx tools.ExecContext) (any, error) {
			return map[string]any{"found": true}, nil
		},
	}))
	require.NoError(t, registry.Add(tools.Descriptor{
		Name:            "done",
		ParameterSchema: paramsSchema(),
		Execute: func(ctx tools.ExecContext) (any, error) {
			return "closing summary", nil
		},
	}))

	loop := toolexec.New(registry, validator, eventbus.New(16), nil, nil, nil, 0)
	calls := []message.ToolCall{
		{ID: "call-2", FunctionName: "done", ArgumentsJSON: "{}"},
		{ID: "call-1", FunctionName: "search_data_catalog", ArgumentsJSON: "{}"},
	}
	snap := state.Snapshot{}
	st := state.New(nil)

	outcome, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, snap, st, map[string]struct{}{"done": {}})
	require.NoError(t, err)
	require.Len(t, outcome.Messages, 2)
	assert.Equal(t, "call-2", outcome.Messages[0].ToolCallID)
	assert.Equal(t, "call-1", outcome.Messages[1].ToolCallID)
	assert.False(t, outcome.Messages[0].IsError)
	assert.False(t, outcome.Messages[1].IsError)
	assert.True(t, outcome.Terminated)
}

func TestLoop_Run_GateViolationOnUnknownTool(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	loop := toolexec.New(registry, validator, eventbus.New(16), nil, nil, nil, 0)

	calls := []message.ToolCall{{ID: "call-1", FunctionName: "nonexistent", ArgumentsJSON: "{}"}}
	outcome, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, state.Snapshot{}, state.New(nil), nil)
	require.NoError(t, err)
	require.Len(t, outcome.Messages, 1)
	assert.True(t, outcome.Messages[0].IsError)
	assert.False(t, outcome.Terminated)
}

func TestLoop_Run_GateViolationWhenGateClosed(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	require.NoError(t, registry.Add(tools.Descriptor{
		Name:            "create_plan",
		ParameterSchema: paramsSchema(),
		Gate:            func(state.Snapshot) bool { return false },
		Execute:         func(tools.ExecContext) (any, error) { return nil, nil },
	}))
	loop := toolexec.New(registry, validator, eventbus.New(16), nil, nil, nil, 0)

	calls := []message.ToolCall{{ID: "call-1", FunctionName: "create_plan", ArgumentsJSON: "{}"}}
	outcome, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, state.Snapshot{}, state.New(nil), nil)
	require.NoError(t, err)
	assert.True(t, outcome.Messages[0].IsError)
}

func TestLoop_Run_ParseErrorOnInvalidArguments(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	require.NoError(t, registry.Add(tools.Descriptor{
		Name: "write_metric_file",
		ParameterSchema: map[string]any{
			"type":     "object",
			"required": []any{"files"},
		},
		Execute: func(tools.ExecContext) (any, error) { return nil, nil },
	}))
	loop := toolexec.New(registry, validator, eventbus.New(16), nil, nil, nil, 0)

	calls := []message.ToolCall{{ID: "call-1", FunctionName: "write_metric_file", ArgumentsJSON: "{}"}}
	outcome, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, state.Snapshot{}, state.New(nil), nil)
	require.NoError(t, err)
	assert.True(t, outcome.Messages[0].IsError)
}

func TestLoop_Run_ToolErrorFromExecute(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	require.NoError(t, registry.Add(tools.Descriptor{
		Name:            "request_review",
		ParameterSchema: paramsSchema(),
		Execute: func(tools.ExecContext) (any, error) {
			return nil, errors.New("boom")
		},
	}))
	loop := toolexec.New(registry, validator, eventbus.New(16), nil, nil, nil, 0)

	calls := []message.ToolCall{{ID: "call-1", FunctionName: "request_review", ArgumentsJSON: "{}"}}
	outcome, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, state.Snapshot{}, state.New(nil), nil)
	require.NoError(t, err)
	assert.True(t, outcome.Messages[0].IsError)
	assert.Contains(t, outcome.Messages[0].Content, "boom")
}

func TestLoop_Run_PublishesInterimAndCompleteEvents(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	require.NoError(t, registry.Add(tools.Descriptor{
		Name:            "create_plan",
		ParameterSchema: paramsSchema(),
		Execute: func(ctx tools.ExecContext) (any, error) {
			ctx.Emit(map[string]any{"progress": "half done"})
			return "plan complete", nil
		},
	}))
	bus := eventbus.New(16)
	ch, unsub := bus.Subscribe()
	defer unsub()

	loop := toolexec.New(registry, validator, bus, nil, nil, nil, 0)
	calls := []message.ToolCall{{ID: "call-1", FunctionName: "create_plan", ArgumentsJSON: "{}"}}
	_, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, state.Snapshot{}, state.New(nil), nil)
	require.NoError(t, err)

	var sawInterim, sawComplete bool
	for i := 0; i < 2; i++ {
		evt := <-ch
		tm, ok := evt.Payload.(message.Tool)
		require.True(t, ok)
		switch tm.Progress {
		case message.InProgress:
			sawInterim = true
		case message.Complete:
			sawComplete = true
		}
	}
	assert.True(t, sawInterim)
	assert.True(t, sawComplete)
}

func TestLoop_Run_RespectsConcurrencyLimit(t *testing.T) {
	validator := schema.NewValidator()
	registry := tools.NewRegistry(validator)
	var active, maxActive int
	require.NoError(t, registry.Add(tools.Descriptor{
		Name:            "write_metric_file",
		ParameterSchema: paramsSchema(),
		Execute: func(tools.ExecContext) (any, error) {
			active++
			if active > maxActive {
				maxActive = active
			}
			active--
			return "ok", nil
		},
	}))
	loop := toolexec.New(registry, validator, eventbus.New(16), nil, nil, nil, 1)

	calls := []message.ToolCall{
		{ID: "c1", FunctionName: "write_metric_file", ArgumentsJSON: "{}"},
		{ID: "c2", FunctionName: "write_metric_file", ArgumentsJSON: "{}"},
		{ID: "c3", FunctionName: "write_metric_file", ArgumentsJSON: "{}"},
	}
	outcome, err := loop.Run(context.Background(), "run-1", nextSeq(), calls, state.Snapshot{}, state.New(nil), nil)
	require.NoError(t, err)
	require.Len(t, outcome.Messages, 3)
	assert.LessOrEqual(t, maxActive, 1)
}
