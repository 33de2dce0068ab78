package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricloop/agentrt/agent"
	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/builtintools"
	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/llmdriver/llmdrivertest"
	"github.com/metricloop/agentrt/message"
)

func newTestAgent(t *testing.T, provider *llmdrivertest.Provider, initialState map[string]any) *agent.Agent {
	t.Helper()
	return agent.New("user-1", "session-1", initialState, agent.Deps{
		Provider:        provider,
		Table:           builtintools.Table(""),
		BusCapacity:     64,
		ToolConcurrency: 4,
		RequestTimeout:  5 * time.Second,
	})
}

func drain(t *testing.T, ch <-chan eventbus.Event, timeout time.Duration) []eventbus.Event {
	t.Helper()
	var events []eventbus.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if _, done := ev.Payload.(message.Done); done {
				return events
			}
		case <-deadline:
			return events
		}
	}
}

func toolCallChunk(index int, id, name, argsJSON string) []llmdriver.Chunk {
	return []llmdriver.Chunk{
		{ToolCall: &llmdriver.ToolCallDelta{Index: index, ID: id, Name: name}},
		{ToolCall: &llmdriver.ToolCallDelta{Index: index, ArgumentsDelta: argsJSON}},
		{FinishReason: "tool_calls"},
	}
}

func TestAgent_Run_InitialTurnSearchesCatalogThenDone(t *testing.T) {
	provider := llmdrivertest.New(
		llmdrivertest.Script{Chunks: toolCallChunk(0, "call-1", "search_data_catalog", `{"query":"revenue"}`)},
		llmdrivertest.Script{Chunks: toolCallChunk(0, "call-2", "done", `{"summary":"found it"}`)},
	)
	a := newTestAgent(t, provider, nil)
	ch, unsubscribe := a.Subscribe()
	defer unsubscribe()

	a.AppendUserMessage("What's our revenue trend?")

	err := a.Run(context.Background())
	require.NoError(t, err)

	events := drain(t, ch, time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	done, ok := last.Payload.(message.Done)
	require.True(t, ok)
	assert.False(t, done.Cancelled)

	require.Len(t, provider.Requests, 2)
	assert.Equal(t, "search_data_catalog", provider.Requests[0].Tools[0]["name"])
}

func TestAgent_Run_PlanningModeAfterDataContext(t *testing.T) {
	provider := llmdrivertest.New(
		llmdrivertest.Script{Chunks: toolCallChunk(0, "call-1", "create_plan", `{"markdown":"# Plan"}`)},
		llmdrivertest.Script{Chunks: toolCallChunk(0, "call-2", "done", `{"summary":"planned"}`)},
	)
	a := newTestAgent(t, provider, map[string]any{
		"searched_data_catalog": true,
		"data_context":          "revenue_by_region",
	})
	a.AppendUserMessage("Plan the analysis.")

	err := a.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, provider.Requests, 2)
	names := toolNames(provider.Requests[0].Tools)
	assert.Contains(t, names, "create_plan")
	assert.NotContains(t, names, "search_data_catalog")
}

func TestAgent_Run_TerminatesWithoutToolCalls(t *testing.T) {
	provider := llmdrivertest.New(llmdrivertest.Script{Chunks: []llmdriver.Chunk{
		{ContentDelta: "hello"},
		{FinishReason: "stop"},
	}})
	a := newTestAgent(t, provider, map[string]any{"is_follow_up": true, "review_needed": true})
	a.AppendUserMessage("anything")

	err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, provider.Requests, 1)
}

func TestAgent_Run_GateViolationFeedsBackAsToolError(t *testing.T) {
	provider := llmdrivertest.New(
		llmdrivertest.Script{Chunks: toolCallChunk(0, "call-1", "create_plan", `{"markdown":"x"}`)},
		llmdrivertest.Script{Chunks: toolCallChunk(0, "call-2", "done", `{"summary":"ok"}`)},
	)
	// create_plan is gated off in DataCatalogSearch mode (not registered at
	// all, since catalog search hasn't happened yet), so the first call
	// should come back as a gate violation rather than aborting the run.
	a := newTestAgent(t, provider, nil)
	a.AppendUserMessage("skip ahead")

	err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, provider.Requests, 2)
}

// blockingProvider never resolves Next until its context is cancelled,
// letting tests exercise Agent.Cancel and the single-active-run invariant
// without racing a real provider.
type blockingProvider struct{ started chan struct{} }

func (p *blockingProvider) StreamChat(ctx context.Context, req llmdriver.Request) (llmdriver.Streamer, error) {
	close(p.started)
	return &blockingStreamer{}, nil
}

type blockingStreamer struct{}

func (s *blockingStreamer) Next(ctx context.Context) (llmdriver.Chunk, error) {
	<-ctx.Done()
	return llmdriver.Chunk{}, ctx.Err()
}

func (s *blockingStreamer) Close() error { return nil }

func TestAgent_Run_BusyOnConcurrentRun(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	a := agent.New("user-1", "session-1", map[string]any{"is_follow_up": true}, agent.Deps{
		Provider: provider, Table: builtintools.Table(""), BusCapacity: 64,
	})
	a.AppendUserMessage("hi")

	firstDone := make(chan error, 1)
	go func() { firstDone <- a.Run(context.Background()) }()
	<-provider.started

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, agenterrors.ErrBusy)

	a.Cancel()
	<-firstDone
}

func TestAgent_Run_AmbiguousStateFallsBackToInitializing(t *testing.T) {
	provider := llmdrivertest.New(llmdrivertest.Script{Chunks: []llmdriver.Chunk{
		{FinishReason: "stop"},
	}})
	// searched_data_catalog, data_context, and plan_available are all set in
	// a way the table doesn't anticipate (data_context cleared again after a
	// plan was made), landing on the Otherwise branch of mode.Decide.
	a := newTestAgent(t, provider, map[string]any{
		"is_follow_up":           true,
		"searched_data_catalog":  true,
		"data_context":           "",
		"plan_available":         true,
	})
	a.AppendUserMessage("continue")

	err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, provider.Requests, 1)
	assert.Empty(t, provider.Requests[0].Tools)
}

func TestAgent_Cancel_StopsRunAndEmitsCancelledDone(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	a := agent.New("user-1", "session-1", map[string]any{"is_follow_up": true}, agent.Deps{
		Provider: provider, Table: builtintools.Table(""), BusCapacity: 64,
	})
	ch, unsubscribe := a.Subscribe()
	defer unsubscribe()
	a.AppendUserMessage("hi")

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(context.Background()) }()
	<-provider.started
	a.Cancel()

	err := <-runErr
	require.ErrorIs(t, err, agenterrors.ErrCancelled)

	events := drain(t, ch, time.Second)
	require.NotEmpty(t, events)
	done, ok := events[len(events)-1].Payload.(message.Done)
	require.True(t, ok)
	assert.True(t, done.Cancelled)
}

func TestAgent_Shutdown_ClosesBus(t *testing.T) {
	provider := llmdrivertest.New()
	a := newTestAgent(t, provider, nil)
	ch, _ := a.Subscribe()

	a.Shutdown(context.Background())

	_, ok := <-ch
	if ok {
		_, ok = <-ch
	}
	assert.False(t, ok)
}

func toolNames(schemas []map[string]any) []string {
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		if n, ok := s["name"].(string); ok {
			names = append(names, n)
		}
	}
	return names
}
