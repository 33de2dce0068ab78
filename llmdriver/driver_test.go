package llmdriver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/llmdriver/llmdrivertest"
	"github.com/metricloop/agentrt/message"
)

func nextSeq() func() uint64 {
	var n uint64
	return func() uint64 { n++; return n }
}

func TestDriver_Run_AssemblesContentOnlyReply(t *testing.T) {
	provider := llmdrivertest.New(llmdrivertest.Script{
		Chunks: []llmdriver.Chunk{
			{ContentDelta: "Hello"},
			{ContentDelta: ", world"},
			{FinishReason: "stop"},
		},
	})
	bus := eventbus.New(16)
	ch, unsub := bus.Subscribe()
	defer unsub()

	d := llmdriver.New(provider, bus, nil, nil, nil, 0)
	outcome, err := d.Run(context.Background(), "run-1", nextSeq(), llmdriver.Request{ModelID: "test"})
	require.NoError(t, err)
	assert.False(t, outcome.Cancelled)
	assert.Equal(t, "Hello, world", outcome.Assistant.Content)
	assert.Equal(t, message.Complete, outcome.Assistant.Progress)
	assert.Empty(t, outcome.Assistant.ToolCalls)

	var sawComplete bool
	for i := 0; i < 10; i++ {
		select {
		case evt := <-ch:
			if a, ok := evt.Payload.(message.Assistant); ok && a.Progress == message.Complete {
				sawComplete = true
			}
		default:
		}
	}
	assert.True(t, sawComplete)
}

func TestDriver_Run_AssemblesToolCall(t *testing.T) {
	provider := llmdrivertest.New(llmdrivertest.Script{
		Chunks: []llmdriver.Chunk{
			{ToolCall: &llmdriver.ToolCallDelta{Index: 0, ID: "call-1", Name: "done"}},
			{ToolCall: &llmdriver.ToolCallDelta{Index: 0, ArgumentsDelta: `{}`}},
			{FinishReason: "tool_calls"},
		},
	})
	bus := eventbus.New(16)
	d := llmdriver.New(provider, bus, nil, nil, nil, 0)

	outcome, err := d.Run(context.Background(), "run-1", nextSeq(), llmdriver.Request{ModelID: "test"})
	require.NoError(t, err)
	require.Len(t, outcome.Assistant.ToolCalls, 1)
	assert.Equal(t, "done", outcome.Assistant.ToolCalls[0].FunctionName)
	assert.Equal(t, "call-1", outcome.Assistant.ToolCalls[0].ID)
	assert.Equal(t, "{}", outcome.Assistant.ToolCalls[0].ArgumentsJSON)
}

func TestDriver_Run_ProviderErrorIsWrapped(t *testing.T) {
	boom := assert.AnError
	provider := llmdrivertest.New(llmdrivertest.Script{Err: boom})
	bus := eventbus.New(16)
	ch, unsub := bus.Subscribe()
	defer unsub()

	d := llmdriver.New(provider, bus, nil, nil, nil, 0)
	_, err := d.Run(context.Background(), "run-1", nextSeq(), llmdriver.Request{ModelID: "test"})
	require.Error(t, err)

	provErr, ok := agenterrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, agenterrors.ProviderErrorKindUnknown, provErr.Kind)

	evt := <-ch
	errPayload, ok := evt.Payload.(eventbus.Error)
	require.True(t, ok)
	assert.Equal(t, "provider", errPayload.Kind)
}

func TestDriver_Run_CancellationLeavesMessageUnappended(t *testing.T) {
	provider := llmdrivertest.New(llmdrivertest.Script{
		Chunks: []llmdriver.Chunk{
			{ContentDelta: "partial"},
		},
	})
	bus := eventbus.New(16)
	d := llmdriver.New(provider, bus, nil, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := d.Run(ctx, "run-1", nextSeq(), llmdriver.Request{ModelID: "test"})
	assert.ErrorIs(t, err, agenterrors.ErrCancelled)
	assert.True(t, outcome.Cancelled)
	assert.Empty(t, outcome.Assistant.Content)
}

func TestDriver_Run_RequestTimeoutSurfacesAsProviderError(t *testing.T) {
	// The one-nanosecond deadline has already passed when the driver first
	// checks its context, so the scripted reply is never read.
	provider := llmdrivertest.New(llmdrivertest.Script{Chunks: []llmdriver.Chunk{{FinishReason: "stop"}}})
	bus := eventbus.New(16)
	d := llmdriver.New(provider, bus, nil, nil, nil, time.Nanosecond)

	_, err := d.Run(context.Background(), "run-1", nextSeq(), llmdriver.Request{ModelID: "test"})
	require.Error(t, err)
	provErr, ok := agenterrors.AsProviderError(err)
	assert.True(t, ok)
	assert.Equal(t, agenterrors.ProviderErrorKindTimeout, provErr.Kind)
}
